package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/josh-kwaku/campus-ledger/internal/logging"
)

// Client talks to the ledger API on behalf of one terminal.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type entryPayload struct {
	AccountID         uuid.UUID       `json:"account_id"`
	MaxPerTransaction decimal.Decimal `json:"max_per_transaction"`
	ValidFrom         time.Time       `json:"valid_from"`
	ValidUntil        time.Time       `json:"valid_until"`
	Version           int64           `json:"version"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type snapshotPayload struct {
	DeviceID string         `json:"device_id"`
	IssuedAt time.Time      `json:"issued_at"`
	Checksum string         `json:"checksum"`
	Entries  []entryPayload `json:"entries"`
}

type recordPayload struct {
	TxnID            string `json:"txn_id"`
	AccountID        string `json:"account_id"`
	DeviceID         string `json:"device_id"`
	Sequence         uint64 `json:"sequence"`
	Amount           string `json:"amount"`
	OccurredAt       string `json:"occurred_at"`
	WhitelistVersion int64  `json:"whitelist_version"`
	Signature        string `json:"signature"`
}

type syncPayload struct {
	Records []recordPayload `json:"records"`
}

type syncItemPayload struct {
	TxnID   string `json:"txn_id"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

type syncReportPayload struct {
	Total          int               `json:"total"`
	Applied        int               `json:"applied"`
	Duplicates     int               `json:"duplicates"`
	Conflicts      int               `json:"conflicts"`
	Rejected       int               `json:"rejected"`
	Failed         int               `json:"failed"`
	ConflictTxnIDs []string          `json:"conflict_txn_ids"`
	Items          []syncItemPayload `json:"items"`
}

// FetchSnapshot downloads the device's current whitelist snapshot.
func (c *Client) FetchSnapshot(ctx context.Context, deviceID string) (domain.WhitelistSnapshot, error) {
	var p snapshotPayload
	if err := c.do(ctx, http.MethodGet, "/devices/"+url.PathEscape(deviceID)+"/whitelist", nil, &p); err != nil {
		return domain.WhitelistSnapshot{}, fmt.Errorf("FetchSnapshot: %w", err)
	}

	snap := domain.WhitelistSnapshot{
		DeviceID: p.DeviceID,
		IssuedAt: p.IssuedAt,
		Checksum: p.Checksum,
		Entries:  make([]domain.WhitelistEntry, len(p.Entries)),
	}
	for i, e := range p.Entries {
		snap.Entries[i] = domain.WhitelistEntry{
			DeviceID:          p.DeviceID,
			AccountID:         e.AccountID,
			MaxPerTransaction: e.MaxPerTransaction,
			ValidFrom:         e.ValidFrom,
			ValidUntil:        e.ValidUntil,
			Version:           e.Version,
			UpdatedAt:         e.UpdatedAt,
		}
	}
	return snap, nil
}

// SubmitBatch posts records to the sync endpoint and returns the per-record report.
func (c *Client) SubmitBatch(ctx context.Context, records []domain.PendingRecord) (*domain.SyncReport, error) {
	req := syncPayload{Records: make([]recordPayload, len(records))}
	for i, r := range records {
		req.Records[i] = recordPayload{
			TxnID:            r.TxnID,
			AccountID:        r.AccountID.String(),
			DeviceID:         r.DeviceID,
			Sequence:         r.Sequence,
			Amount:           r.Amount.StringFixed(domain.MinorUnitPlaces),
			OccurredAt:       r.OccurredAt.UTC().Format(time.RFC3339Nano),
			WhitelistVersion: r.WhitelistVersion,
			Signature:        r.Signature,
		}
	}

	var p syncReportPayload
	if err := c.do(ctx, http.MethodPost, "/sync/batch", req, &p); err != nil {
		return nil, fmt.Errorf("SubmitBatch: %w", err)
	}

	report := &domain.SyncReport{
		Total:          p.Total,
		Applied:        p.Applied,
		Duplicates:     p.Duplicates,
		Conflicts:      p.Conflicts,
		Rejected:       p.Rejected,
		Failed:         p.Failed,
		ConflictTxnIDs: p.ConflictTxnIDs,
		Items:          make([]domain.SyncItem, len(p.Items)),
	}
	for i, it := range p.Items {
		report.Items[i] = domain.SyncItem{TxnID: it.TxnID, Outcome: domain.SyncOutcome(it.Outcome), Reason: it.Reason}
	}
	return report, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	log := logging.FromContext(ctx)

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	requestID := ulid.Make().String()
	httpReq.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	log.Info("ledger request sent", "method", method, "path", path, "request_id", requestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	log.Info("ledger response received",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if !env.Success {
		if env.Error != nil {
			return fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("request failed")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
