// Package security signs outgoing webhook payloads so receivers can check
// who produced them and that they were not altered in transit.
package security

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// Header names carrying the signature metadata
const (
	HeaderSignature  = "X-Signature"
	HeaderSigner     = "X-Signature-Signer"
	HeaderTimestamp  = "X-Signature-Timestamp"
	HeaderValidUntil = "X-Signature-Valid-Until"
)

var (
	// ErrBadSignature is returned when the signature does not recover to the
	// claimed signer or the body was changed
	ErrBadSignature = errors.New("security: signature verification failed")

	// ErrExpired is returned for a signature past its validity
	ErrExpired = errors.New("security: signature expired")
)

// Signature is the metadata attached to a signed payload
type Signature struct {
	Signature  []byte
	Signer     common.Address
	Timestamp  int64
	ValidUntil int64
}

// Signer signs payloads with a secp256k1 key
type Signer struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	validity time.Duration
}

// NewSigner creates a signer from a hex private key. An empty key generates
// an ephemeral one, which is only useful while the receiver trusts whatever
// address the process logs at startup.
func NewSigner(hexKey string, validity time.Duration) (*Signer, error) {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	if hexKey == "" {
		key, err = crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
	} else {
		key, err = crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid signing key: %w", err)
		}
	}
	if validity <= 0 {
		validity = 5 * time.Minute
	}

	s := &Signer{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		validity: validity,
	}
	logrus.WithFields(logrus.Fields{
		"signer":    s.address.Hex(),
		"ephemeral": hexKey == "",
	}).Info("Payload signer initialized")
	return s, nil
}

// Address is the account receivers recover signatures to
func (s *Signer) Address() common.Address {
	return s.address
}

// digest binds the timestamp to the body so a signature cannot be replayed
// on a later payload
func digest(body []byte, timestamp int64) []byte {
	return crypto.Keccak256([]byte(strconv.FormatInt(timestamp, 10)), body)
}

// Sign signs body at now
func (s *Signer) Sign(body []byte, now time.Time) (Signature, error) {
	ts := now.Unix()
	sig, err := crypto.Sign(digest(body, ts), s.key)
	if err != nil {
		return Signature{}, fmt.Errorf("failed to sign payload: %w", err)
	}
	return Signature{
		Signature:  sig,
		Signer:     s.address,
		Timestamp:  ts,
		ValidUntil: now.Add(s.validity).Unix(),
	}, nil
}

// SignRequest signs body and sets the signature headers on h
func (s *Signer) SignRequest(h http.Header, body []byte) error {
	sig, err := s.Sign(body, time.Now())
	if err != nil {
		return err
	}
	h.Set(HeaderSignature, hexutil.Encode(sig.Signature))
	h.Set(HeaderSigner, sig.Signer.Hex())
	h.Set(HeaderTimestamp, strconv.FormatInt(sig.Timestamp, 10))
	h.Set(HeaderValidUntil, strconv.FormatInt(sig.ValidUntil, 10))
	return nil
}

// Verify checks sig against body at now
func Verify(body []byte, sig Signature, now time.Time) error {
	if now.Unix() > sig.ValidUntil {
		return fmt.Errorf("%w at %s", ErrExpired, time.Unix(sig.ValidUntil, 0).UTC().Format(time.RFC3339))
	}
	if len(sig.Signature) != crypto.SignatureLength {
		return fmt.Errorf("%w: invalid signature length %d", ErrBadSignature, len(sig.Signature))
	}
	pub, err := crypto.SigToPub(digest(body, sig.Timestamp), sig.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if crypto.PubkeyToAddress(*pub) != sig.Signer {
		return ErrBadSignature
	}
	return nil
}

// ParseHeaders reads the signature metadata set by SignRequest
func ParseHeaders(h http.Header) (Signature, error) {
	raw, err := hexutil.Decode(h.Get(HeaderSignature))
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	signer := h.Get(HeaderSigner)
	if !common.IsHexAddress(signer) {
		return Signature{}, fmt.Errorf("%w: invalid signer %q", ErrBadSignature, signer)
	}
	ts, err := strconv.ParseInt(h.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: invalid timestamp", ErrBadSignature)
	}
	until, err := strconv.ParseInt(h.Get(HeaderValidUntil), 10, 64)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: invalid validity", ErrBadSignature)
	}
	return Signature{
		Signature:  raw,
		Signer:     common.HexToAddress(signer),
		Timestamp:  ts,
		ValidUntil: until,
	}, nil
}
