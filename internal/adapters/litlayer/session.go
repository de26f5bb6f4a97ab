package litlayer

// session.go: LitLayer agent session.
//
// A trading key (secp256k1) signs an EIP-712 "Agent" message that authorises
// it to act for an agent address until expiryTime. The resulting signature is
// attached to every signed request body.

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	arbitrumChainID = int64(42161)

	agentDomainName    = "LitLayer"
	agentDomainVersion = "v1"

	defaultPlatform    = "turbox"
	defaultEnvironment = "Mainnet"
	sessionTTL         = 24 * time.Hour
)

// EIP-712 type hashes (computed once).
var (
	agentDomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract,bytes32 salt)",
	))
	agentTypeHash = crypto.Keccak256Hash([]byte(
		"Agent(string litLayer,address agentAddress,string platform,uint256 expiryTime)",
	))
)

// SessionConfig describes the agent a trading key signs for.
type SessionConfig struct {
	TradingKeyHex string // secp256k1 private key, with or without 0x
	AgentAddress  string
	Platform      string
	Environment   string // Devnet | Testnet | Mainnet
}

// Session holds a signed agent authorisation.
type Session struct {
	key         *ecdsa.PrivateKey
	agent       common.Address
	platform    string
	environment string
	expiry      time.Time
	signature   string
}

// NewSession signs the agent message with the trading key, valid for 24h from now.
func NewSession(cfg SessionConfig, now time.Time) (*Session, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.TradingKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("litlayer.NewSession: invalid trading key: %w", err)
	}
	if !common.IsHexAddress(cfg.AgentAddress) {
		return nil, fmt.Errorf("litlayer.NewSession: invalid agent address %q", cfg.AgentAddress)
	}
	if cfg.Platform == "" {
		cfg.Platform = defaultPlatform
	}
	if cfg.Environment == "" {
		cfg.Environment = defaultEnvironment
	}

	s := &Session{
		key:         key,
		agent:       common.HexToAddress(cfg.AgentAddress),
		platform:    cfg.Platform,
		environment: cfg.Environment,
		expiry:      now.Add(sessionTTL).Truncate(time.Second),
	}

	sig, err := crypto.Sign(s.Digest().Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("litlayer.NewSession: sign: %w", err)
	}
	sig[64] += 27
	s.signature = "0x" + common.Bytes2Hex(sig)
	return s, nil
}

// GenerateTradingKey creates a fresh random trading key and returns it hex
// encoded with its address.
func GenerateTradingKey() (keyHex, address string, err error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", "", fmt.Errorf("litlayer.GenerateTradingKey: %w", err)
	}
	return "0x" + common.Bytes2Hex(crypto.FromECDSA(key)), crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// Signature returns the 0x-prefixed 65-byte signature.
func (s *Session) Signature() string { return s.signature }

// Signer returns the address of the trading key.
func (s *Session) Signer() common.Address { return crypto.PubkeyToAddress(s.key.PublicKey) }

// Expiry returns when the authorisation lapses.
func (s *Session) Expiry() time.Time { return s.expiry }

// Expired reports whether the session must be renewed.
func (s *Session) Expired(now time.Time) bool { return !now.Before(s.expiry) }

// Digest returns the EIP-712 hash that was signed.
func (s *Session) Digest() common.Hash {
	var structBuf []byte
	structBuf = append(structBuf, agentTypeHash.Bytes()...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(s.environment)).Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(s.agent.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(s.platform)).Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(big.NewInt(s.expiry.Unix()).Bytes(), 32)...)
	structHash := crypto.Keccak256Hash(structBuf)

	var rawBuf []byte
	rawBuf = append(rawBuf, 0x19, 0x01)
	rawBuf = append(rawBuf, agentDomainSeparator().Bytes()...)
	rawBuf = append(rawBuf, structHash.Bytes()...)
	return crypto.Keccak256Hash(rawBuf)
}

// agentDomainSeparator computes the EIP-712 domain separator. verifyingContract
// and salt are zero.
func agentDomainSeparator() common.Hash {
	var buf []byte
	buf = append(buf, agentDomainTypeHash.Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(agentDomainName)).Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(agentDomainVersion)).Bytes()...)
	buf = append(buf, common.LeftPadBytes(big.NewInt(arbitrumChainID).Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(common.Address{}.Bytes(), 32)...)
	buf = append(buf, common.Hash{}.Bytes()...)
	return crypto.Keccak256Hash(buf)
}

type exchangeRequest struct {
	ProxyAddress string `json:"proxy_address"`
	Platform     string `json:"platform"`
	ChainID      int64  `json:"chain_id"`
	ExpiryTime   int64  `json:"expiry_time"`
	Signature    string `json:"signature"`
}

// SubmitExchange registers the session's agent authorisation with the venue.
func (c *Client) SubmitExchange(ctx context.Context, s *Session) error {
	body := exchangeRequest{
		ProxyAddress: s.agent.Hex(),
		Platform:     s.platform,
		ChainID:      arbitrumChainID,
		ExpiryTime:   s.expiry.Unix(),
		Signature:    s.signature,
	}
	if err := c.post(ctx, "/v1/exchange", body, nil, true); err != nil {
		return fmt.Errorf("litlayer.SubmitExchange: %w", err)
	}
	return nil
}

type registerRequest struct {
	Endpoint     string `json:"mm_endpoint"`
	AgentAddress string `json:"agent_address"`
}

// RegisterEndpoint tells the venue where to send JIT auctions and trade
// notifications for the agent.
func (c *Client) RegisterEndpoint(ctx context.Context, agentAddress, endpoint string) error {
	if !common.IsHexAddress(agentAddress) {
		return fmt.Errorf("litlayer.RegisterEndpoint: invalid agent address %q", agentAddress)
	}
	body := registerRequest{Endpoint: endpoint, AgentAddress: agentAddress}
	if err := c.post(ctx, "/"+agentAddress+"/register", body, nil, true); err != nil {
		return fmt.Errorf("litlayer.RegisterEndpoint: %w", err)
	}
	return nil
}
