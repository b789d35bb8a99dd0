package guest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNoRecord means the CRM has no profile for the guest yet.
var ErrNoRecord = errors.New("no remote guest record")

// SyncError means the remote record's id does not match the requested guest
// id; local caches for that id must be purged.
type SyncError struct {
	Requested string
	Remote    string
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("guest record out of sync: requested %s, remote %s", e.Requested, e.Remote)
}

// CRM is the remote system of record for guest profiles.
type CRM interface {
	Fetch(ctx context.Context, guestID string) (Profile, error)
	Push(ctx context.Context, guestID string, p Profile) error
}

// HTTPCRM talks to the guest record service over HTTP/JSON.
type HTTPCRM struct {
	baseURL string
	client  *http.Client
}

func NewHTTPCRM(baseURL string, timeout time.Duration) *HTTPCRM {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPCRM{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPCRM) Fetch(ctx context.Context, guestID string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/guests/"+guestID, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("create request: %w", err)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("fetch guest: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return Profile{}, ErrNoRecord
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Profile{}, fmt.Errorf("crm status %d: %s", res.StatusCode, string(body))
	}

	var p Profile
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("decode guest record: %w", err)
	}
	if p.ID != guestID {
		return Profile{}, &SyncError{Requested: guestID, Remote: p.ID}
	}
	return p, nil
}

// Push uploads the CRM-owned subset of a profile. Session bookkeeping is
// stripped before sending.
func (c *HTTPCRM) Push(ctx context.Context, guestID string, p Profile) error {
	payload, err := json.Marshal(crmPayload(p))
	if err != nil {
		return fmt.Errorf("marshal guest record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/guests/"+guestID, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("push guest: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("crm status %d: %s", res.StatusCode, string(body))
	}
	return nil
}

type crmRecord struct {
	ID              string   `json:"id"`
	Name            string   `json:"name,omitempty"`
	Company         string   `json:"company,omitempty"`
	Industry        string   `json:"industry,omitempty"`
	ProjectTypes    []string `json:"project_types"`
	Budget          string   `json:"budget,omitempty"`
	Timeline        string   `json:"timeline,omitempty"`
	ContactInfo     string   `json:"contact_info,omitempty"`
	PainPoints      []string `json:"pain_points"`
	CurrentTech     []string `json:"current_tech"`
	AdditionalNotes string   `json:"additional_notes,omitempty"`
	Status          Status   `json:"status"`
}

func crmPayload(p Profile) crmRecord {
	return crmRecord{
		ID:              p.ID,
		Name:            p.Name,
		Company:         p.Company,
		Industry:        p.Industry,
		ProjectTypes:    p.ProjectTypes,
		Budget:          p.Budget,
		Timeline:        p.Timeline,
		ContactInfo:     p.ContactInfo,
		PainPoints:      p.PainPoints,
		CurrentTech:     p.CurrentTech,
		AdditionalNotes: p.AdditionalNotes,
		Status:          p.Status,
	}
}

// NoopCRM is used when no CRM endpoint is configured; every guest looks new
// and pushes succeed silently.
type NoopCRM struct{}

func (NoopCRM) Fetch(context.Context, string) (Profile, error) { return Profile{}, ErrNoRecord }
func (NoopCRM) Push(context.Context, string, Profile) error    { return nil }

// NewCRM creates an HTTP client when a base URL is configured, otherwise noop.
func NewCRM(baseURL string, timeout time.Duration) CRM {
	if strings.TrimSpace(baseURL) == "" {
		return NoopCRM{}
	}
	return NewHTTPCRM(baseURL, timeout)
}
