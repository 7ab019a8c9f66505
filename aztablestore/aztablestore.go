// Package aztablestore provides an Azure Table Storage backend.
//
// A session is one entity whose partition key and row key are both the
// session key. The payload is kept in the binary "data" property and the
// expiry in the "expiryDate" property, which is omitted for sessions that
// never expire.
package aztablestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bluescreen10/tablesession"
)

const (
	propData   = "data"
	propExpiry = "expiryDate"

	// odataTime is the DateTime literal layout accepted in filters.
	odataTime = "2006-01-02T15:04:05.0000000Z"
)

// AzTableStore is an Azure Table Storage backed table service.
type AzTableStore struct {
	svc *aztables.ServiceClient
}

// Ensure AzTableStore implements tablesession.Backend.
var _ tablesession.Backend = (*AzTableStore)(nil)

// New creates and returns a new AzTableStore using svc.
func New(svc *aztables.ServiceClient) *AzTableStore {
	return &AzTableStore{svc: svc}
}

// NewFromConnectionString connects with a storage connection string, such
// as the one of the local emulator.
func NewFromConnectionString(connStr string) (*AzTableStore, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, err
	}
	return New(svc), nil
}

// NewWithSharedKey connects to serviceURL with an account name and key. An
// empty serviceURL selects the public endpoint of the account.
func NewWithSharedKey(account, key, serviceURL string) (*AzTableStore, error) {
	cred, err := aztables.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, err
	}
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.table.core.windows.net/", account)
	}

	svc, err := aztables.NewServiceClientWithSharedKey(serviceURL, cred, nil)
	if err != nil {
		return nil, err
	}
	return New(svc), nil
}

// EnsureTable creates the named table. A table that already exists is not
// an error.
func (s *AzTableStore) EnsureTable(ctx context.Context, name string) (tablesession.Table, error) {
	_, err := s.svc.CreateTable(ctx, name, nil)
	if err != nil && !isStatus(err, http.StatusConflict) {
		return nil, unavailable(err)
	}
	return &Table{client: s.svc.NewClient(name)}, nil
}

// Table is a single Azure table.
type Table struct {
	client *aztables.Client
}

// Upsert replaces the entity stored under rec.Key.
func (t *Table) Upsert(ctx context.Context, rec tablesession.Record) error {
	entity := aztables.EDMEntity{
		Entity: aztables.Entity{
			PartitionKey: rec.Key,
			RowKey:       rec.Key,
		},
		Properties: map[string]any{
			propData: aztables.EDMBinary(rec.Data),
		},
	}
	if rec.Expires() {
		entity.Properties[propExpiry] = aztables.EDMDateTime(rec.ExpiresAt.UTC())
	}

	body, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("%w: %v", tablesession.ErrSerialization, err)
	}

	_, err = t.client.UpsertEntity(ctx, body, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Read returns the entity stored under key.
func (t *Table) Read(ctx context.Context, key string) (tablesession.Record, error) {
	resp, err := t.client.GetEntity(ctx, key, key, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return tablesession.Record{}, tablesession.ErrNotFound
		}
		return tablesession.Record{}, unavailable(err)
	}

	return decodeEntity(resp.Value)
}

// Delete removes the entity stored under key.
func (t *Table) Delete(ctx context.Context, key string) error {
	_, err := t.client.DeleteEntity(ctx, key, key, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return tablesession.ErrNotFound
		}
		return unavailable(err)
	}
	return nil
}

// Query lists entities whose expiryDate is before q.ExpiresBefore. The
// continuation token carries the service's next partition and row keys.
func (t *Table) Query(ctx context.Context, q tablesession.Query) (tablesession.Page, error) {
	opts := &aztables.ListEntitiesOptions{
		Filter: to.Ptr(expiryFilter(q.ExpiresBefore)),
		Select: to.Ptr("PartitionKey,RowKey," + propExpiry),
	}
	if q.Limit > 0 {
		opts.Top = to.Ptr(int32(q.Limit))
	}
	if q.Continuation != "" {
		pk, rk, ok := splitToken(q.Continuation)
		if !ok {
			return tablesession.Page{}, fmt.Errorf("invalid continuation token %q", q.Continuation)
		}
		opts.NextPartitionKey = to.Ptr(pk)
		opts.NextRowKey = to.Ptr(rk)
	}

	pager := t.client.NewListEntitiesPager(opts)
	if !pager.More() {
		return tablesession.Page{}, nil
	}

	resp, err := pager.NextPage(ctx)
	if err != nil {
		return tablesession.Page{}, unavailable(err)
	}

	var page tablesession.Page
	for _, raw := range resp.Entities {
		rec, err := decodeEntity(raw)
		if err != nil {
			return tablesession.Page{}, err
		}
		page.Records = append(page.Records, rec)
	}

	if resp.NextPartitionKey != nil {
		var rk string
		if resp.NextRowKey != nil {
			rk = *resp.NextRowKey
		}
		page.Next = joinToken(*resp.NextPartitionKey, rk)
	}
	return page, nil
}

func decodeEntity(raw []byte) (tablesession.Record, error) {
	var entity aztables.EDMEntity
	if err := json.Unmarshal(raw, &entity); err != nil {
		return tablesession.Record{}, fmt.Errorf("%w: %v", tablesession.ErrSerialization, err)
	}

	rec := tablesession.Record{Key: entity.RowKey}
	if data, ok := entity.Properties[propData].(aztables.EDMBinary); ok {
		rec.Data = []byte(data)
	}
	if expiry, ok := entity.Properties[propExpiry].(aztables.EDMDateTime); ok {
		rec.ExpiresAt = time.Time(expiry)
	}
	return rec, nil
}

func expiryFilter(before time.Time) string {
	return fmt.Sprintf("%s lt datetime'%s'", propExpiry, before.UTC().Format(odataTime))
}

func joinToken(pk, rk string) string {
	return pk + "\n" + rk
}

func splitToken(token string) (pk, rk string, ok bool) {
	return strings.Cut(token, "\n")
}

func isStatus(err error, status int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == status
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", tablesession.ErrBackendUnavailable, err)
}

