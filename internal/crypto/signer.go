package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	mrand "math/rand"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Pre-computed keccak256 of the canonical EIP-712 type strings.
var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// ClobAuth(address address,uint256 timestamp,uint256 nonce)
	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,uint256 timestamp,uint256 nonce)"),
	)

	// Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)
	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// collateralDecimals is the USDC precision used for maker/taker amounts.
const collateralDecimals = 1e6

// OrderArgs is what the trading engine knows about an order: outcome token,
// side, limit price in probability units, and size in shares.
type OrderArgs struct {
	TokenID string
	Side    string // "buy" or "sell"
	Price   float64
	Size    float64
}

// SignedOrder is the fully encoded, signed order ready for submission.
// String fields preserve uint256 precision across the JSON boundary.
type SignedOrder struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"` // "BUY" or "SELL"
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// Signer produces EIP-712 signatures for venue auth and order placement.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
	sigType    int
	authSep    []byte // cached ClobAuthDomain separator
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the target chain ID (137 for Polygon mainnet).
func NewSigner(privateKeyHex string, chainID, signatureType int) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
		sigType:    signatureType,
	}
	s.authSep = s.domainSeparator("ClobAuthDomain", "1")
	return s, nil
}

// Address returns the wallet address derived from the private key.
func (s *Signer) Address() common.Address { return s.address }

// SignAuthMessage signs the ClobAuth struct used to derive HMAC API
// credentials. The result is a hex-encoded 65-byte signature.
func (s *Signer) SignAuthMessage(address string, timestamp, nonce int64) (string, error) {
	addr := common.HexToAddress(address)

	structHash := ethcrypto.Keccak256(concatBytes(
		clobAuthTypeHash,
		common.LeftPadBytes(addr.Bytes(), 32),
		uint256Bytes(big.NewInt(timestamp)),
		uint256Bytes(big.NewInt(nonce)),
	))

	return s.signDigest(eip712Hash(s.authSep, structHash))
}

// SignOrder encodes and signs a fill-or-kill order. Amounts are derived
// from price and size: a buy spends price*size collateral for size shares,
// a sell offers size shares for price*size collateral.
func (s *Signer) SignOrder(args OrderArgs) (SignedOrder, error) {
	if args.Price <= 0 || args.Size <= 0 {
		return SignedOrder{}, fmt.Errorf("crypto: invalid order price %v size %v", args.Price, args.Size)
	}

	collateral := int64(math.Round(args.Price * args.Size * collateralDecimals))
	shares := int64(math.Round(args.Size * collateralDecimals))

	var makerAmt, takerAmt int64
	var sideCode int64
	var sideName string
	switch strings.ToLower(args.Side) {
	case "buy":
		makerAmt, takerAmt = collateral, shares
		sideCode, sideName = 0, "BUY"
	case "sell":
		makerAmt, takerAmt = shares, collateral
		sideCode, sideName = 1, "SELL"
	default:
		return SignedOrder{}, fmt.Errorf("crypto: invalid order side %q", args.Side)
	}

	order := SignedOrder{
		Salt:          strconv.FormatInt(mrand.Int63(), 10),
		Maker:         s.address.Hex(),
		Signer:        s.address.Hex(),
		Taker:         zeroAddress,
		TokenID:       args.TokenID,
		MakerAmount:   strconv.FormatInt(makerAmt, 10),
		TakerAmount:   strconv.FormatInt(takerAmt, 10),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideName,
		SignatureType: s.sigType,
	}

	structHash, err := orderStructHash(order, sideCode)
	if err != nil {
		return SignedOrder{}, err
	}

	exchangeSep := s.domainSeparator("Polymarket CTF Exchange", "1")
	sig, err := s.signDigest(eip712Hash(exchangeSep, structHash))
	if err != nil {
		return SignedOrder{}, err
	}
	order.Signature = sig
	return order, nil
}

// domainSeparator returns keccak256(abi.encode(typeHash, nameHash,
// versionHash, chainId)).
func (s *Signer) domainSeparator(name, version string) []byte {
	return ethcrypto.Keccak256(concatBytes(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(name)),
		ethcrypto.Keccak256([]byte(version)),
		uint256Bytes(big.NewInt(int64(s.chainID))),
	))
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes(
		[]byte{0x19, 0x01},
		domainSep,
		structHash,
	))
}

// signDigest signs a 32-byte digest and returns the hex signature with the
// recovery byte shifted into the {27,28} range the venue expects.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func orderStructHash(o SignedOrder, sideCode int64) ([]byte, error) {
	fields := []struct {
		name string
		val  string
	}{
		{"salt", o.Salt},
		{"tokenId", o.TokenID},
		{"makerAmount", o.MakerAmount},
		{"takerAmount", o.TakerAmount},
		{"expiration", o.Expiration},
		{"nonce", o.Nonce},
		{"feeRateBps", o.FeeRateBps},
	}
	nums := make([]*big.Int, len(fields))
	for i, f := range fields {
		n, ok := new(big.Int).SetString(f.val, 10)
		if !ok {
			return nil, fmt.Errorf("crypto: invalid %s %q", f.name, f.val)
		}
		nums[i] = n
	}

	return ethcrypto.Keccak256(concatBytes(
		orderTypeHash,
		uint256Bytes(nums[0]),
		common.LeftPadBytes(common.HexToAddress(o.Maker).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(o.Signer).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(o.Taker).Bytes(), 32),
		uint256Bytes(nums[1]),
		uint256Bytes(nums[2]),
		uint256Bytes(nums[3]),
		uint256Bytes(nums[4]),
		uint256Bytes(nums[5]),
		uint256Bytes(nums[6]),
		uint256Bytes(big.NewInt(sideCode)),
		uint256Bytes(big.NewInt(int64(o.SignatureType))),
	)), nil
}

// uint256Bytes returns the 32-byte big-endian representation of n.
func uint256Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
