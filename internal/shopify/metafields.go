package shopify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Metafield value types used by the credit ledger schema.
const (
	TypeInteger  = "number_integer"
	TypeDecimal  = "number_decimal"
	TypeDateTime = "date_time"
	TypeJSON     = "json"
	TypeBoolean  = "boolean"
	TypeText     = "single_line_text_field"
)

// metafieldsSet accepts at most 25 entries per call.
const metafieldBatchSize = 25

// Metafield is one typed key-value record on the installation.
type Metafield struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// MetafieldInput is one entry of a batch-set.
type MetafieldInput struct {
	OwnerID   string `json:"ownerId"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Type      string `json:"type"`
	Value     string `json:"value"`
}

const getMetafieldsQuery = `
query AppInstallationMetafields($namespace: String!, $first: Int!) {
  currentAppInstallation {
    id
    metafields(namespace: $namespace, first: $first) {
      edges { node { key type value } }
    }
  }
}`

const metafieldsSetMutation = `
mutation MetafieldsSet($metafields: [MetafieldsSetInput!]!) {
  metafieldsSet(metafields: $metafields) {
    metafields { key }
    userErrors { field message code }
  }
}`

// InstallationID resolves the current app installation GID, the owner of
// every ledger metafield.
func (c *Client) InstallationID(ctx context.Context) (string, error) {
	var out struct {
		CurrentAppInstallation struct {
			ID string `json:"id"`
		} `json:"currentAppInstallation"`
	}
	if err := c.execute(ctx, `query { currentAppInstallation { id } }`, nil, &out); err != nil {
		return "", err
	}
	return out.CurrentAppInstallation.ID, nil
}

// GetMetafields reads every metafield of the namespace and returns those in
// keys. Absent keys are simply missing from the map.
func (c *Client) GetMetafields(ctx context.Context, namespace string, keys []string) (map[string]Metafield, error) {
	var out struct {
		CurrentAppInstallation struct {
			ID         string `json:"id"`
			Metafields struct {
				Edges []struct {
					Node Metafield `json:"node"`
				} `json:"edges"`
			} `json:"metafields"`
		} `json:"currentAppInstallation"`
	}

	vars := map[string]any{"namespace": namespace, "first": 50}
	if err := c.execute(ctx, getMetafieldsQuery, vars, &out); err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		wanted[k] = struct{}{}
	}

	result := make(map[string]Metafield)
	for _, edge := range out.CurrentAppInstallation.Metafields.Edges {
		if len(wanted) > 0 {
			if _, ok := wanted[edge.Node.Key]; !ok {
				continue
			}
		}
		result[edge.Node.Key] = edge.Node
	}
	return result, nil
}

// SetMetafields writes entries in batches. The store offers no multi-field
// transaction: a failing batch after a succeeding one leaves a partial write,
// which is logged and surfaced, not compensated.
func (c *Client) SetMetafields(ctx context.Context, entries []MetafieldInput) error {
	for start := 0; start < len(entries); start += metafieldBatchSize {
		end := start + metafieldBatchSize
		if end > len(entries) {
			end = len(entries)
		}

		var out struct {
			MetafieldsSet struct {
				UserErrors []UserError `json:"userErrors"`
			} `json:"metafieldsSet"`
		}
		vars := map[string]any{"metafields": entries[start:end]}
		if err := c.execute(ctx, metafieldsSetMutation, vars, &out); err != nil {
			if start > 0 {
				c.log.Warn("metafield batch-set partially applied",
					zap.Int("written", start),
					zap.Int("total", len(entries)),
					zap.Error(err))
			}
			return err
		}
		if len(out.MetafieldsSet.UserErrors) > 0 {
			err := fmt.Errorf("metafieldsSet user errors: %s", userErrorMessages(out.MetafieldsSet.UserErrors))
			if start > 0 {
				c.log.Warn("metafield batch-set partially applied",
					zap.Int("written", start),
					zap.Int("total", len(entries)),
					zap.Error(err))
			}
			return err
		}
	}
	return nil
}
