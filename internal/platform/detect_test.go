package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ChokorKassem/web-client-detector/pkg/chat"
)

func TestDetect_NoPresence(t *testing.T) {
	t.Run("nil member", func(t *testing.T) {
		assert.Empty(t, Detect(nil))
	})

	t.Run("nil presence", func(t *testing.T) {
		assert.Empty(t, Detect(&chat.Member{ID: 1}))
	})

	t.Run("all offline", func(t *testing.T) {
		m := &chat.Member{Presence: &chat.Presence{
			DesktopStatus: "offline",
			MobileStatus:  "offline",
			WebStatus:     "offline",
		}}
		assert.Empty(t, Detect(m))
	})

	t.Run("all unset", func(t *testing.T) {
		m := &chat.Member{Presence: &chat.Presence{}}
		assert.Empty(t, Detect(m))
	})
}

func TestDetect_PerSurfaceFields(t *testing.T) {
	m := &chat.Member{Presence: &chat.Presence{
		DesktopStatus: "online",
		MobileStatus:  "idle",
		WebStatus:     "offline",
	}}
	assert.Equal(t, []Surface{SurfaceDesktop, SurfaceMobile}, Detect(m))
}

func TestDetect_ClientStatusMap(t *testing.T) {
	m := &chat.Member{Presence: &chat.Presence{
		ClientStatus: map[string]string{
			"web":     "online",
			"android": "dnd",
			"pc":      "offline",
		},
	}}
	assert.Equal(t, []Surface{SurfaceMobile, SurfaceWeb}, Detect(m))
}

func TestDetect_UnionAcrossRepresentations(t *testing.T) {
	m := &chat.Member{Presence: &chat.Presence{
		WebStatus: "online",
		ClientStatus: map[string]string{
			"web":     "online", // duplicate observation collapses
			"desktop": "idle",
		},
	}}
	assert.Equal(t, []Surface{SurfaceDesktop, SurfaceWeb}, Detect(m))
}

func TestDetect_UnknownKeysIgnored(t *testing.T) {
	m := &chat.Member{Presence: &chat.Presence{
		ClientStatus: map[string]string{
			"toaster": "online",
			"iphone":  "online",
		},
	}}
	assert.Equal(t, []Surface{SurfaceMobile}, Detect(m))
}

func TestDetect_StatusCaseInsensitive(t *testing.T) {
	m := &chat.Member{Presence: &chat.Presence{WebStatus: "OFFLINE"}}
	assert.Empty(t, Detect(m))

	m.Presence.WebStatus = "Online"
	assert.Equal(t, []Surface{SurfaceWeb}, Detect(m))
}

func TestWebOnly(t *testing.T) {
	assert.True(t, WebOnly([]Surface{SurfaceWeb}))
	assert.False(t, WebOnly([]Surface{SurfaceWeb, SurfaceDesktop}))
	assert.False(t, WebOnly([]Surface{SurfaceDesktop}))
	assert.False(t, WebOnly(nil))
}

func TestStringsRoundTrip(t *testing.T) {
	in := []Surface{SurfaceDesktop, SurfaceWeb}
	assert.Equal(t, []string{"desktop", "web"}, Strings(in))
	assert.Equal(t, in, FromStrings([]string{"desktop", "junk", "WEB"}))
}
