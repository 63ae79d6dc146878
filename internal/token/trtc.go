package token

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TRTC issues UserSig v2 credentials.
type TRTC struct {
	SDKAppID  int
	SecretKey string
	Expire    time.Duration

	now func() time.Time
}

func NewTRTC(sdkAppID int, secretKey string, expire time.Duration) *TRTC {
	if expire <= 0 {
		expire = 24 * time.Hour
	}
	return &TRTC{SDKAppID: sdkAppID, SecretKey: secretKey, Expire: expire, now: time.Now}
}

func (t *TRTC) Provider() string { return "trtc" }

func (t *TRTC) Configured() bool { return t.SDKAppID != 0 && t.SecretKey != "" }

type userSigDoc struct {
	Ver        string `json:"TLS.ver"`
	Identifier string `json:"TLS.identifier"`
	SDKAppID   int    `json:"TLS.sdkappid"`
	Expire     int64  `json:"TLS.expire"`
	Time       int64  `json:"TLS.time"`
	Sig        string `json:"TLS.sig"`
}

var userSigEscaper = strings.NewReplacer("+", "*", "/", "-", "=", "_")

func (t *TRTC) Issue(userID, roomID string) (Credential, error) {
	if !t.Configured() {
		return Credential{}, ErrNotConfigured
	}
	if err := checkIDs(userID, roomID); err != nil {
		return Credential{}, err
	}

	now := t.now()
	expire := int64(t.Expire / time.Second)
	doc := userSigDoc{
		Ver:        "2.0",
		Identifier: userID,
		SDKAppID:   t.SDKAppID,
		Expire:     expire,
		Time:       now.Unix(),
	}
	doc.Sig = t.sign(doc)

	raw, err := json.Marshal(doc)
	if err != nil {
		return Credential{}, fmt.Errorf("trtc usersig: %w", err)
	}
	compressed, err := deflate(raw)
	if err != nil {
		return Credential{}, fmt.Errorf("trtc usersig: %w", err)
	}
	return Credential{
		Provider:  t.Provider(),
		AppID:     strconv.Itoa(t.SDKAppID),
		Channel:   roomID,
		UID:       userID,
		Token:     userSigEscaper.Replace(base64.StdEncoding.EncodeToString(compressed)),
		ExpiresAt: now.Add(t.Expire),
	}, nil
}

func (t *TRTC) sign(d userSigDoc) string {
	content := fmt.Sprintf("TLS.identifier:%s\nTLS.sdkappid:%d\nTLS.time:%d\nTLS.expire:%d\n",
		d.Identifier, d.SDKAppID, d.Time, d.Expire)
	return base64.StdEncoding.EncodeToString(hmacSHA256([]byte(t.SecretKey), []byte(content)))
}
