package member

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mitchellh/mapstructure"

	"github.com/briangreenhill/harmoney/pkg/httpclient"
)

// DefaultBusinessLine is sent with every directory search.
const DefaultBusinessLine = "Market Place"

// DirectoryConfig locates the member directory REST API.
type DirectoryConfig struct {
	Host         string
	BasePath     string
	Version      string
	APIKey       string
	BusinessLine string
	// HTTP overrides the search call's timeout and retries. Nil means httpclient.DefaultConfig.
	HTTP         *httpclient.Config
}

// DirectoryClient implements Directory over HTTP.
type DirectoryClient struct {
	http *httpclient.Client
	cfg  DirectoryConfig
}

// NewDirectoryClient fails when the API key or the base location is missing.
func NewDirectoryClient(hc *httpclient.Client, cfg DirectoryConfig) (*DirectoryClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("member directory api key required")
	}
	if cfg.Host == "" || cfg.BasePath == "" {
		return nil, errors.New("member directory host and base path required")
	}
	if cfg.BusinessLine == "" {
		cfg.BusinessLine = DefaultBusinessLine
	}
	if hc == nil {
		hc = httpclient.New()
	}
	return &DirectoryClient{http: hc, cfg: cfg}, nil
}

func (c *DirectoryClient) url(endpoint string) string {
	return ResourceURL(c.cfg.Host, c.cfg.BasePath, c.cfg.Version, endpoint)
}

// Search returns the raw directory records for identifier.
func (c *DirectoryClient) Search(ctx context.Context, identifier string) ([]Member, error) {
	params := map[string]string{"businessLine": c.cfg.BusinessLine}
	if identifier != "" {
		params["identifier"] = identifier
	}
	env, err := c.http.RunInstance(ctx, c.url(""), httpclient.Options{
		Method:  http.MethodGet,
		Headers: map[string]string{"Authorization": "Basic " + c.cfg.APIKey},
		Params:  params,
	}, c.cfg.HTTP)
	if err != nil {
		return nil, fmt.Errorf("search members: %w", err)
	}
	if env.Empty() {
		return nil, &NotFoundError{Identifier: identifier, Reason: "member search returned no response"}
	}

	var body struct {
		Members []Member `json:"members"`
	}
	if err := decode(env.Data, &body); err != nil {
		return nil, fmt.Errorf("decode member search: %w", err)
	}
	return body.Members, nil
}

func (c *DirectoryClient) Enrollments(ctx context.Context, memberID string) ([]Enrollment, error) {
	var body struct {
		Enrollments []Enrollment `json:"enrollmentspans"`
	}
	if err := c.getInto(ctx, memberID+"/enrollmentspans", &body); err != nil {
		return nil, err
	}
	return body.Enrollments, nil
}

func (c *DirectoryClient) Identifiers(ctx context.Context, memberID string) ([]Identifier, error) {
	var body struct {
		Identifiers []Identifier `json:"identifiers"`
	}
	if err := c.getInto(ctx, memberID+"/identifiers", &body); err != nil {
		return nil, err
	}
	return body.Identifiers, nil
}

func (c *DirectoryClient) Attributes(ctx context.Context, memberID string) ([]Attribute, error) {
	var body struct {
		Attributes []Attribute `json:"attributes"`
	}
	if err := c.getInto(ctx, memberID+"/attributes", &body); err != nil {
		return nil, err
	}
	return body.Attributes, nil
}

func (c *DirectoryClient) getInto(ctx context.Context, endpoint string, out any) error {
	data, err := c.http.Get(ctx, c.url(endpoint), c.cfg.APIKey)
	if err != nil {
		return fmt.Errorf("GET %s: %w", endpoint, err)
	}
	if data == nil {
		return fmt.Errorf("GET %s: %w", endpoint, ErrUnavailable)
	}
	if err := decode(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

// decode maps generic JSON into tagged structs, tolerating loose scalar types.
func decode(in, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
