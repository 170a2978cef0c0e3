package model

import (
	"github.com/getlantern/msgpack"
)

// Welcome is the envelope delivered to a prospective group member. It names
// the key package the ciphertext was encrypted to so the recipient can locate
// the matching private material. It is encoded with MessagePack.
type Welcome struct {
	SenderIdentityId string
	ConversationId   string
	KeyPackage       KeyPackageRef
	HistoryShared    bool
	Ciphertext       []byte
}

// WelcomeInfo is the read-only view of a staged welcome.
type WelcomeInfo struct {
	SenderIdentityId string
	ConversationId   string
	HistoryShared    bool
}

func ParseWelcome(welcomeBytes []byte) (*Welcome, error) {
	result := &Welcome{}
	err := msgpack.Unmarshal(welcomeBytes, result)
	if err != nil {
		return nil, ErrMalformedWelcome.WithError(err)
	}
	if result.SenderIdentityId == "" || result.KeyPackage.IdentityId == "" || len(result.Ciphertext) == 0 {
		return nil, ErrMalformedWelcome
	}
	if _, err := ParseConversationId(result.ConversationId); err != nil {
		return nil, ErrMalformedWelcome
	}
	return result, nil
}

func (w *Welcome) Bytes() ([]byte, error) {
	return msgpack.Marshal(w)
}

func (w *Welcome) Info() *WelcomeInfo {
	return &WelcomeInfo{
		SenderIdentityId: w.SenderIdentityId,
		ConversationId:   w.ConversationId,
		HistoryShared:    w.HistoryShared,
	}
}
