package room

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/teslashibe/go-sitevoice/internal/httpc"
	"github.com/teslashibe/go-sitevoice/pkg/protocol"
)

// Grant is what a participant needs to join a provisioned room.
type Grant struct {
	Room  string
	URL   string
	Token string
}

// Provisioner creates and deletes managed rooms.
type Provisioner interface {
	CreateRoom(ctx context.Context, name string) (Grant, error)
	DeleteRoom(ctx context.Context, name string) error
}

// HTTPProvisioner talks to the voice backend's provisioning endpoints.
type HTTPProvisioner struct {
	base   string
	client *http.Client
}

// NewHTTPProvisioner creates a provisioner for the backend at base,
// e.g. http://localhost:8000. A nil client uses httpc.Client.
func NewHTTPProvisioner(base string, client *http.Client) *HTTPProvisioner {
	if client == nil {
		client = httpc.Client
	}
	return &HTTPProvisioner{base: strings.TrimRight(base, "/"), client: client}
}

// CreateRoom calls POST /voice/create-room. A response without success or
// credentials is an error carrying the backend's reason.
func (p *HTTPProvisioner) CreateRoom(ctx context.Context, name string) (Grant, error) {
	var resp protocol.CreateRoomResponse
	status, err := httpc.DoJSON(ctx, p.client, http.MethodPost, p.base+"/voice/create-room",
		protocol.CreateRoomRequest{RoomName: name}, &resp)
	if err != nil {
		return Grant{}, err
	}
	if !resp.Success || resp.Token == "" || resp.URL == "" {
		reason := resp.Reason()
		if reason == "" {
			reason = fmt.Sprintf("HTTP %d", status)
		}
		return Grant{}, &RejectedError{Reason: reason}
	}
	room := resp.RoomName
	if room == "" {
		room = name
	}
	return Grant{Room: room, URL: resp.URL, Token: resp.Token}, nil
}

// DeleteRoom calls DELETE /voice/room/{name}.
func (p *HTTPProvisioner) DeleteRoom(ctx context.Context, name string) error {
	var resp protocol.DeleteRoomResponse
	if _, err := httpc.DoJSON(ctx, p.client, http.MethodDelete, p.base+"/voice/room/"+url.PathEscape(name), nil, &resp); err != nil {
		return err
	}
	if !resp.Success {
		if resp.Error != "" {
			return &RejectedError{Reason: resp.Error}
		}
		return &RejectedError{Reason: "room not deleted"}
	}
	return nil
}

// VoiceEnabled calls GET /status. It is the auto selector's probe.
func (p *HTTPProvisioner) VoiceEnabled(ctx context.Context) (bool, error) {
	var st protocol.Status
	if _, err := httpc.DoJSON(ctx, p.client, http.MethodGet, p.base+"/status", nil, &st); err != nil {
		return false, err
	}
	return st.VoiceEnabled, nil
}

// RejectedError is a provisioning request the backend answered but refused.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "room: rejected: " + e.Reason
}

// reasonOf extracts the backend's message for a ProvisioningError.
func reasonOf(err error) string {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

var _ Provisioner = (*HTTPProvisioner)(nil)
