package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixel-battle/internal/game"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Event
	}{
		{
			name: "join minimal",
			raw:  `{"type":"join","playerId":"p1"}`,
			want: Join{PlayerID: "p1"},
		},
		{
			name: "place pixel",
			raw:  `{"type":"placePixel","playerId":"p1","x":3,"y":249,"color":"#00ff00"}`,
			want: PlacePixel{PlayerID: "p1", X: 3, Y: 249, Color: "#00ff00"},
		},
		{
			name: "place pixel out of bounds still decodes",
			raw:  `{"type":"placePixel","playerId":"p1","x":-1,"y":500,"color":"#fff"}`,
			want: PlacePixel{PlayerID: "p1", X: -1, Y: 500, Color: "#fff"},
		},
		{
			name: "dynamite",
			raw:  `{"type":"useDynamite","playerId":"p1"}`,
			want: UseDynamite{PlayerID: "p1"},
		},
		{
			name: "update color",
			raw:  `{"type":"updateColor","playerId":"p1","color":"#123456"}`,
			want: UpdateColor{PlayerID: "p1", Color: "#123456"},
		},
		{
			name: "update player",
			raw:  `{"type":"updatePlayer","playerId":"p1","tokens":12.5,"level":1,"energy":40}`,
			want: UpdateStats{PlayerID: "p1", Tokens: 12.5, Level: 1, Energy: 40},
		},
		{
			name: "legacy player stats alias",
			raw:  `{"type":"playerStats","playerId":"p1","tokens":1,"level":2,"energy":3}`,
			want: UpdateStats{PlayerID: "p1", Tokens: 1, Level: 2, Energy: 3},
		},
		{
			name: "pong",
			raw:  `{"type":"pong"}`,
			want: Pong{},
		},
		{
			name: "unknown type",
			raw:  `{"type":"teleport","playerId":"p1"}`,
			want: Unknown{Type: "teleport"},
		},
		{
			name: "missing type",
			raw:  `{"playerId":"p1"}`,
			want: Unknown{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeJoinOptionalFields(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"join","playerId":"p1","username":"Ann","tokens":0,"level":3,"energy":0,"color":"#abc"}`))
	require.NoError(t, err)

	join, ok := ev.(Join)
	require.True(t, ok)
	require.NotNil(t, join.Username)
	require.NotNil(t, join.Tokens)
	require.NotNil(t, join.Level)
	require.NotNil(t, join.Energy)
	require.NotNil(t, join.Color)

	assert.Equal(t, "Ann", *join.Username)
	assert.Equal(t, 0.0, *join.Tokens)
	assert.Equal(t, 3, *join.Level)
	assert.Equal(t, 0, *join.Energy, "explicit zero energy must survive decoding")
	assert.Equal(t, "#abc", *join.Color)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType string
	}{
		{"not json", `not json`, ""},
		{"array", `[1,2,3]`, ""},
		{"wrong field type", `{"type":"join","playerId":42}`, ""},
		{"join without id", `{"type":"join"}`, TypeJoin},
		{"join empty id", `{"type":"join","playerId":""}`, TypeJoin},
		{"join fractional level", `{"type":"join","playerId":"p","level":1.5}`, TypeJoin},
		{"place without x", `{"type":"placePixel","playerId":"p","y":1,"color":"#fff"}`, TypePlacePixel},
		{"place fractional y", `{"type":"placePixel","playerId":"p","x":1,"y":1.25,"color":"#fff"}`, TypePlacePixel},
		{"place without color", `{"type":"placePixel","playerId":"p","x":1,"y":1}`, TypePlacePixel},
		{"dynamite without id", `{"type":"useDynamite"}`, TypeUseDynamite},
		{"color without color", `{"type":"updateColor","playerId":"p"}`, TypeUpdateColor},
		{"stats without tokens", `{"type":"updatePlayer","playerId":"p","level":1,"energy":1}`, TypeUpdatePlayer},
		{"stats without energy", `{"type":"playerStats","playerId":"p","tokens":1,"level":1}`, TypeUpdatePlayer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.Nil(t, ev)

			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.wantType, de.Type)
			assert.Equal(t, ReasonInvalid, ReasonFor(err))
		})
	}
}

func TestReasonFor(t *testing.T) {
	assert.Equal(t, ReasonNotFound, ReasonFor(game.ErrNotFound))
	assert.Equal(t, ReasonOutOfBounds, ReasonFor(game.ErrOutOfBounds))
	assert.Equal(t, ReasonInsufficientResource, ReasonFor(game.ErrInsufficientResource))
	assert.Equal(t, ReasonInvalid, ReasonFor(errors.New("boom")))
}

func TestActionNames(t *testing.T) {
	assert.Equal(t, TypePlacePixel, PlacePixel{}.Action())
	assert.Equal(t, TypeUpdatePlayer, UpdateStats{}.Action())
	assert.Equal(t, "teleport", Unknown{Type: "teleport"}.Action())
}
