// Package shopify is the Admin GraphQL client used for the installation's
// metafield ledger store and the billing API. It is a leaf: no other package
// semantics live here.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fitglance/fitglance/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RequestTimeout bounds every Admin API call; requests fail explicitly after
// this rather than hanging. Critical sections holding a ledger lock across a
// billing call must budget for it.
const RequestTimeout = 15 * time.Second

type Client struct {
	httpClient  *http.Client
	endpoint    string
	accessToken string
	test        bool
	log         *zap.Logger
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

func NewClient(p Params) *Client {
	endpoint := fmt.Sprintf("https://%s/admin/api/%s/graphql.json", p.Config.ShopDomain, p.Config.ShopifyAPIVersion)
	return &Client{
		httpClient:  &http.Client{Timeout: RequestTimeout},
		endpoint:    endpoint,
		accessToken: p.Config.ShopifyAccessToken,
		test:        p.Config.BillingTest,
		log:         p.Log.Named("shopify.client"),
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// UserError is a mutation-level error returned by the Admin API.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code"`
}

func (c *Client) execute(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("admin api request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("admin api response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin api status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed graphqlResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return fmt.Errorf("admin api decode: %w", err)
	}
	if len(parsed.Errors) > 0 {
		messages := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			messages = append(messages, e.Message)
		}
		return fmt.Errorf("admin api errors: %s", strings.Join(messages, "; "))
	}

	if out != nil {
		if err := json.Unmarshal(parsed.Data, out); err != nil {
			return fmt.Errorf("admin api data decode: %w", err)
		}
	}
	return nil
}

func userErrorMessages(errs []UserError) string {
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, e.Message)
	}
	return strings.Join(messages, "; ")
}

var Module = fx.Module("shopify.client",
	fx.Provide(NewClient),
)
