// Package token mints short-lived credentials for the external audio SDKs.
// Issuers are stateless and safe for concurrent use.
package token

import (
	"bytes"
	"compress/zlib"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"time"
)

var (
	ErrNotConfigured = errors.New("provider not configured")
	ErrEmptyUserID   = errors.New("user id required")
	ErrEmptyRoomID   = errors.New("room id required")
)

// Credential is what a browser needs to join the provider's audio channel.
// For Agora AppID is the app id; for TRTC it is the decimal SDKAppID.
type Credential struct {
	Provider  string
	AppID     string
	Channel   string
	UID       string
	Token     string
	ExpiresAt time.Time
}

type Issuer interface {
	Provider() string
	Configured() bool
	Issue(userID, roomID string) (Credential, error)
}

func hmacSHA256(key, msg []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	return h.Sum(nil)
}

func deflate(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func checkIDs(userID, roomID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if roomID == "" {
		return ErrEmptyRoomID
	}
	return nil
}
