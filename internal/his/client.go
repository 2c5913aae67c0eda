package his

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hackgods/practitioner-slot-booking/internal/booking"
)

var ErrRejected = errors.New("his rejected the request")

// Client talks to the hospital information system, which owns the
// authoritative copy of confirmed bookings. Calls are not retried.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type createBookingRequest struct {
	BookingID      string `json:"bookingId"`
	ContactID      string `json:"contactId"`
	ContactName    string `json:"contactName"`
	BirthDate      string `json:"birthDate,omitempty"`
	Phone          string `json:"phone,omitempty"`
	PractitionerID string `json:"practitionerId"`
	FacilityID     string `json:"facilityId"`
	ScheduleID     string `json:"scheduleId"`
	Date           string `json:"date"`
	Number         int    `json:"number"`
	FromTime       string `json:"fromTime"`
	ToTime         string `json:"toTime"`
	Channel        string `json:"channel"`
	CreatedBy      string `json:"createdBy"`
}

type createBookingResponse struct {
	Success    bool   `json:"success"`
	ExternalID string `json:"externalId"`
	Message    string `json:"message,omitempty"`
}

type cancelBookingResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (c *Client) CreateBooking(ctx context.Context, b booking.Booking) (string, error) {
	body := createBookingRequest{
		BookingID:      b.ID.String(),
		ContactID:      b.ContactID.String(),
		ContactName:    b.ContactName,
		Phone:          b.Phone,
		PractitionerID: b.PractitionerID.String(),
		FacilityID:     b.FacilityID.String(),
		ScheduleID:     b.ScheduleID.String(),
		Date:           b.Date.Format(time.DateOnly),
		Number:         b.Number,
		FromTime:       b.From.String(),
		ToTime:         b.To.String(),
		Channel:        string(b.Channel),
		CreatedBy:      b.CreatedBy,
	}
	if b.BirthDate != nil {
		body.BirthDate = b.BirthDate.Format(time.DateOnly)
	}

	var resp createBookingResponse
	if err := c.post(ctx, "/bookings", body, &resp); err != nil {
		return "", fmt.Errorf("create booking: %w", err)
	}
	if !resp.Success || resp.ExternalID == "" {
		return "", fmt.Errorf("create booking: %w: %s", ErrRejected, resp.Message)
	}
	return resp.ExternalID, nil
}

func (c *Client) CancelBooking(ctx context.Context, externalID string) error {
	var resp cancelBookingResponse
	if err := c.post(ctx, "/bookings/"+url.PathEscape(externalID)+"/cancel", struct{}{}, &resp); err != nil {
		return fmt.Errorf("cancel booking %s: %w", externalID, err)
	}
	if !resp.Success {
		return fmt.Errorf("cancel booking %s: %w: %s", externalID, ErrRejected, resp.Message)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
