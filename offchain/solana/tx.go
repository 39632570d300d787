package solana

import (
	"crypto/ed25519"
	"errors"
	"sort"
)

var (
	ErrMissingSigner   = errors.New("missing signer for required signature")
	ErrNoInstructions  = errors.New("message has no instructions")
	ErrTooManyAccounts = errors.New("too many accounts in message")
	ErrSignatureCount  = errors.New("signature count does not match message header")
)

type AccountMeta struct {
	Pubkey     Pubkey
	IsSigner   bool
	IsWritable bool
}

type Instruction struct {
	ProgramID Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// Message is a compiled legacy message. Raw holds the exact bytes that
// signers sign over.
type Message struct {
	Header          MessageHeader
	AccountKeys     []Pubkey
	RecentBlockhash Blockhash
	Raw             []byte
}

func (m Message) FeePayer() Pubkey {
	if len(m.AccountKeys) == 0 {
		return Pubkey{}
	}
	return m.AccountKeys[0]
}

func (m Message) RequiredSigners() []Pubkey {
	n := int(m.Header.NumRequiredSignatures)
	if n > len(m.AccountKeys) {
		n = len(m.AccountKeys)
	}
	return append([]Pubkey(nil), m.AccountKeys[:n]...)
}

// EncodeTransaction lays out shortvec(sigs) || sigs || message.
func EncodeTransaction(msg Message, sigs []Signature) ([]byte, error) {
	if len(sigs) != int(msg.Header.NumRequiredSignatures) {
		return nil, ErrSignatureCount
	}
	out := make([]byte, 0, 1+len(sigs)*64+len(msg.Raw))
	out = append(out, encodeShortVecLen(len(sigs))...)
	for _, s := range sigs {
		out = append(out, s[:]...)
	}
	out = append(out, msg.Raw...)
	return out, nil
}

// UnsignedTransaction fills every signature slot with zeros. RPC nodes accept
// it for simulation when sigVerify is disabled.
func UnsignedTransaction(msg Message) []byte {
	tx, _ := EncodeTransaction(msg, make([]Signature, msg.Header.NumRequiredSignatures))
	return tx
}

func SignMessage(msg Message, signers map[Pubkey]ed25519.PrivateKey) ([]Signature, error) {
	required := msg.RequiredSigners()
	sigs := make([]Signature, 0, len(required))
	for _, pk := range required {
		priv, ok := signers[pk]
		if !ok {
			return nil, ErrMissingSigner
		}
		var s Signature
		copy(s[:], ed25519.Sign(priv, msg.Raw))
		sigs = append(sigs, s)
	}
	return sigs, nil
}

func BuildAndSignLegacyTransaction(
	recentBlockhash Blockhash,
	feePayer Pubkey,
	signers map[Pubkey]ed25519.PrivateKey,
	instructions []Instruction,
) ([]byte, error) {
	msg, err := CompileLegacyMessage(recentBlockhash, feePayer, instructions)
	if err != nil {
		return nil, err
	}
	sigs, err := SignMessage(msg, signers)
	if err != nil {
		return nil, err
	}
	return EncodeTransaction(msg, sigs)
}

type accountInfo struct {
	Pubkey     Pubkey
	IsSigner   bool
	IsWritable bool
	FirstSeen  int
}

func CompileLegacyMessage(
	recentBlockhash Blockhash,
	feePayer Pubkey,
	instructions []Instruction,
) (Message, error) {
	if len(instructions) == 0 {
		return Message{}, ErrNoInstructions
	}

	infos := make(map[Pubkey]*accountInfo, 32)
	seen := 0

	touch := func(pk Pubkey, signer, writable bool) {
		if ai, ok := infos[pk]; ok {
			ai.IsSigner = ai.IsSigner || signer
			ai.IsWritable = ai.IsWritable || writable
			return
		}
		infos[pk] = &accountInfo{
			Pubkey:     pk,
			IsSigner:   signer,
			IsWritable: writable,
			FirstSeen:  seen,
		}
		seen++
	}

	// Fee payer must be a writable signer.
	touch(feePayer, true, true)

	for _, ix := range instructions {
		touch(ix.ProgramID, false, false)
		for _, am := range ix.Accounts {
			touch(am.Pubkey, am.IsSigner, am.IsWritable)
		}
	}
	if len(infos) > 256 {
		return Message{}, ErrTooManyAccounts
	}

	ordered := make([]*accountInfo, 0, len(infos))
	for _, ai := range infos {
		ordered = append(ordered, ai)
	}
	// Signers first, writable before readonly within each group, then
	// first-seen order. The fee payer is always first-seen so lands at index 0.
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.IsSigner != b.IsSigner {
			return a.IsSigner
		}
		if a.IsWritable != b.IsWritable {
			return a.IsWritable
		}
		return a.FirstSeen < b.FirstSeen
	})

	var h MessageHeader
	accountKeys := make([]Pubkey, 0, len(ordered))
	indexOf := make(map[Pubkey]uint8, len(ordered))
	for i, ai := range ordered {
		accountKeys = append(accountKeys, ai.Pubkey)
		indexOf[ai.Pubkey] = uint8(i)
		switch {
		case ai.IsSigner && !ai.IsWritable:
			h.NumRequiredSignatures++
			h.NumReadonlySignedAccounts++
		case ai.IsSigner:
			h.NumRequiredSignatures++
		case !ai.IsWritable:
			h.NumReadonlyUnsignedAccounts++
		}
	}

	out := make([]byte, 0, 512)
	out = append(out, h.NumRequiredSignatures, h.NumReadonlySignedAccounts, h.NumReadonlyUnsignedAccounts)
	out = append(out, encodeShortVecLen(len(accountKeys))...)
	for _, pk := range accountKeys {
		out = append(out, pk[:]...)
	}
	out = append(out, recentBlockhash[:]...)

	out = append(out, encodeShortVecLen(len(instructions))...)
	for _, ix := range instructions {
		out = append(out, indexOf[ix.ProgramID])
		out = append(out, encodeShortVecLen(len(ix.Accounts))...)
		for _, am := range ix.Accounts {
			out = append(out, indexOf[am.Pubkey])
		}
		out = append(out, encodeShortVecLen(len(ix.Data))...)
		out = append(out, ix.Data...)
	}

	return Message{
		Header:          h,
		AccountKeys:     accountKeys,
		RecentBlockhash: recentBlockhash,
		Raw:             out,
	}, nil
}
