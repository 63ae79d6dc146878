package token

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"
	"slices"
	"time"
)

const (
	agoraVersion    = "007"
	agoraServiceRTC = 1

	agoraPrivJoinChannel        = 1
	agoraPrivPublishAudioStream = 2
	agoraPrivPublishVideoStream = 3
	agoraPrivPublishDataStream  = 4
)

// Agora issues AccessToken2 RTC tokens. Without a certificate it runs in
// App ID only mode and hands out a null token.
type Agora struct {
	AppID       string
	Certificate string
	TTL         time.Duration

	now  func() time.Time
	salt func() (uint32, error)
}

func NewAgora(appID, certificate string, ttl time.Duration) *Agora {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Agora{AppID: appID, Certificate: certificate, TTL: ttl, now: time.Now, salt: randomSalt}
}

func (a *Agora) Provider() string { return "agora" }

func (a *Agora) Configured() bool { return a.AppID != "" }

// TokenMode reports whether real tokens are signed.
func (a *Agora) TokenMode() bool { return a.Certificate != "" }

func (a *Agora) Issue(userID, roomID string) (Credential, error) {
	if !a.Configured() {
		return Credential{}, ErrNotConfigured
	}
	if err := checkIDs(userID, roomID); err != nil {
		return Credential{}, err
	}
	cred := Credential{Provider: a.Provider(), AppID: a.AppID, Channel: roomID, UID: userID}
	if !a.TokenMode() {
		return cred, nil
	}

	now := a.now()
	salt, err := a.salt()
	if err != nil {
		return Credential{}, fmt.Errorf("agora salt: %w", err)
	}
	ttl := uint32(a.TTL / time.Second)
	tok, err := buildAccessToken2(a.AppID, a.Certificate, roomID, userID, uint32(now.Unix()), ttl, salt)
	if err != nil {
		return Credential{}, fmt.Errorf("agora token: %w", err)
	}
	cred.Token = tok
	cred.ExpiresAt = now.Add(a.TTL)
	return cred, nil
}

func buildAccessToken2(appID, cert, channel, account string, issueTs, ttl, salt uint32) (string, error) {
	signing := hmacSHA256(packUint32(issueTs), []byte(cert))
	signing = hmacSHA256(packUint32(salt), signing)

	var info bytes.Buffer
	info.Write(packString([]byte(appID)))
	info.Write(packUint32(issueTs))
	info.Write(packUint32(ttl))
	info.Write(packUint32(salt))
	info.Write(packUint16(1))
	info.Write(packRTCService(channel, account, ttl))

	signature := hmacSHA256(signing, info.Bytes())

	var content bytes.Buffer
	content.Write(packString(signature))
	content.Write(info.Bytes())

	compressed, err := deflate(content.Bytes())
	if err != nil {
		return "", err
	}
	return agoraVersion + base64.StdEncoding.EncodeToString(compressed), nil
}

func packRTCService(channel, account string, ttl uint32) []byte {
	privileges := map[uint16]uint32{
		agoraPrivJoinChannel:        ttl,
		agoraPrivPublishAudioStream: ttl,
		agoraPrivPublishVideoStream: ttl,
		agoraPrivPublishDataStream:  ttl,
	}
	var b bytes.Buffer
	b.Write(packUint16(agoraServiceRTC))
	b.Write(packMapUint32(privileges))
	b.Write(packString([]byte(channel)))
	b.Write(packString([]byte(account)))
	return b.Bytes()
}

func packUint16(v uint16) []byte { return binary.LittleEndian.AppendUint16(nil, v) }

func packUint32(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }

func packString(s []byte) []byte {
	return append(packUint16(uint16(len(s))), s...)
}

func packMapUint32(m map[uint16]uint32) []byte {
	keys := make([]uint16, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := packUint16(uint16(len(keys)))
	for _, k := range keys {
		out = append(out, packUint16(k)...)
		out = append(out, packUint32(m[k])...)
	}
	return out
}

func randomSalt() (uint32, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(99999999))
	if err != nil {
		return 0, err
	}
	return uint32(n.Int64()) + 1, nil
}
