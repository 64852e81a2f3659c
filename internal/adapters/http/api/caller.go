package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/voxmeter/internal/domain/model"
)

// Headers set by the auth boundary in front of the daemon.
const (
	HeaderAuthUser  = "X-Auth-User"
	HeaderAuthClass = "X-Auth-Class"
	HeaderAuthPlan  = "X-Auth-Plan"
)

// Device signal headers sent by the UI shell.
const (
	HeaderScreen      = "X-Device-Screen"
	HeaderTimezone    = "X-Device-Timezone"
	HeaderCanvas      = "X-Device-Canvas"
	HeaderPlatform    = "X-Device-Platform"
	HeaderConcurrency = "X-Device-Concurrency"
	HeaderMemory      = "X-Device-Memory"
	HeaderColorDepth  = "X-Device-Color-Depth"
	HeaderTouchPoints = "X-Device-Touch-Points"
)

// HeaderOperationID carries the idempotency key of a metered operation.
const HeaderOperationID = "X-Operation-ID"

func principal(r *http.Request) model.Principal {
	p := model.Principal{
		UserID: strings.TrimSpace(r.Header.Get(HeaderAuthUser)),
		Plan:   strings.TrimSpace(r.Header.Get(HeaderAuthPlan)),
	}
	if p.UserID != "" {
		p.Class = model.ParseClass(r.Header.Get(HeaderAuthClass))
	}
	return p
}

func deviceSignals(r *http.Request) (model.DeviceSignals, error) {
	s := model.DeviceSignals{
		UserAgent:       r.UserAgent(),
		Language:        firstLanguage(r.Header.Get("Accept-Language")),
		Screen:          r.Header.Get(HeaderScreen),
		Timezone:        r.Header.Get(HeaderTimezone),
		CanvasSignature: r.Header.Get(HeaderCanvas),
		Platform:        r.Header.Get(HeaderPlatform),
	}
	ints := []struct {
		header string
		dst    *int
	}{
		{HeaderConcurrency, &s.HardwareConcurrency},
		{HeaderMemory, &s.DeviceMemoryGB},
		{HeaderColorDepth, &s.ColorDepth},
		{HeaderTouchPoints, &s.TouchPoints},
	}
	for _, f := range ints {
		raw := strings.TrimSpace(r.Header.Get(f.header))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return model.DeviceSignals{}, WrapKind(ErrBadRequest, fmt.Errorf("invalid %s header %q", f.header, raw))
		}
		*f.dst = n
	}
	return s, nil
}

// firstLanguage keeps the preferred tag of an Accept-Language value.
func firstLanguage(v string) string {
	tag, _, _ := strings.Cut(v, ",")
	tag, _, _ = strings.Cut(tag, ";")
	return strings.TrimSpace(tag)
}

func operationID(r *http.Request, body string) string {
	if body = strings.TrimSpace(body); body != "" {
		return body
	}
	return strings.TrimSpace(r.Header.Get(HeaderOperationID))
}
