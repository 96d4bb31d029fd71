package backend

import (
	"context"
	"errors"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

// ErrVoiceDisabled is returned when no room service is configured.
var ErrVoiceDisabled = errors.New("backend: voice features are not configured")

// RoomService creates rooms and issues join tokens.
type RoomService interface {
	CreateRoom(ctx context.Context, name string) error
	DeleteRoom(ctx context.Context, name string) error
	Token(room, identity string) (string, error)
	URL() string
}

// Room limits applied to provisioned rooms.
const (
	roomEmptyTimeout    = 300 // seconds
	roomMaxParticipants = 2   // user and assistant
)

// LiveKitRooms is a RoomService backed by a LiveKit server.
type LiveKitRooms struct {
	url    string
	key    string
	secret string
	ttl    time.Duration
	client *lksdk.RoomServiceClient
}

// NewLiveKitRooms creates a room service for the LiveKit server at url.
func NewLiveKitRooms(url, apiKey, apiSecret string, tokenTTL time.Duration) *LiveKitRooms {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &LiveKitRooms{
		url:    url,
		key:    apiKey,
		secret: apiSecret,
		ttl:    tokenTTL,
		client: lksdk.NewRoomServiceClient(url, apiKey, apiSecret),
	}
}

// CreateRoom implements RoomService.
func (r *LiveKitRooms) CreateRoom(ctx context.Context, name string) error {
	_, err := r.client.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            name,
		EmptyTimeout:    roomEmptyTimeout,
		MaxParticipants: roomMaxParticipants,
	})
	return err
}

// DeleteRoom implements RoomService.
func (r *LiveKitRooms) DeleteRoom(ctx context.Context, name string) error {
	_, err := r.client.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: name})
	return err
}

// Token implements RoomService. The token may join and publish in room only.
func (r *LiveKitRooms) Token(room, identity string) (string, error) {
	grant := &auth.VideoGrant{RoomJoin: true, Room: room}
	grant.SetCanPublish(true)
	grant.SetCanSubscribe(true)
	at := auth.NewAccessToken(r.key, r.secret).
		SetVideoGrant(grant).
		SetIdentity(identity).
		SetValidFor(r.ttl)
	return at.ToJWT()
}

// URL implements RoomService.
func (r *LiveKitRooms) URL() string {
	return r.url
}

var _ RoomService = (*LiveKitRooms)(nil)
