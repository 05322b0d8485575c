// Package notify maps request failures to the transient user-facing
// notifications the portal shows. Every failing status class gets its own
// message template; network-unreachable gets its own after retries are
// exhausted.
package notify

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/api"
)

// Level is the visual severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one transient user-visible message.
type Notification struct {
	Level   Level
	Message string
}

// Notifier renders notifications to the user.
type Notifier interface {
	Notify(n Notification)
}

// ForStatus returns the portal's message template for a failing HTTP status.
func ForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "Sesi Anda telah berakhir. Silakan login kembali."
	case status == http.StatusForbidden:
		return "Anda tidak memiliki izin untuk melakukan tindakan ini."
	case status == http.StatusNotFound:
		return "Data yang diminta tidak ditemukan."
	case status == http.StatusConflict:
		return "Data sudah ada atau bentrok dengan data lain."
	case status == http.StatusUnprocessableEntity:
		return "Data yang dikirim tidak valid. Periksa kembali isian Anda."
	case status == http.StatusTooManyRequests:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."
	case status >= 500:
		return "Terjadi gangguan pada server. Silakan coba lagi nanti."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}

// NetworkUnreachable is shown when no response was received even after the
// bounded automatic retries.
const NetworkUnreachable = "Jaringan tidak dapat dihubungi. Periksa koneksi Anda."

// FromError converts a request failure into the notification to display.
// Application errors surface the server's own message when present.
func FromError(err error) Notification {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = ForStatus(apiErr.StatusCode)
		}
		level := LevelError
		if apiErr.StatusCode == http.StatusUnauthorized {
			level = LevelWarning
		}
		return Notification{Level: level, Message: msg}
	}

	// No structured response at all: network-level failure.
	return Notification{Level: LevelError, Message: NetworkUnreachable}
}

// LogNotifier renders notifications through zerolog; the terminal portal
// uses it in place of a toast layer.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a notifier writing to the given logger.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(notif Notification) {
	switch notif.Level {
	case LevelWarning:
		n.log.Warn().Msg(notif.Message)
	case LevelError:
		n.log.Error().Msg(notif.Message)
	default:
		n.log.Info().Msg(notif.Message)
	}
}
