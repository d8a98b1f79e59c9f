package cognito

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// 3072-bit MODP group from RFC 3526, as used by the identity provider.
const primeHex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
	"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
	"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
	"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
	"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
	"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
	"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
	"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
	"15728E5A8AAAC42DAD33170D04507A33A85521ABDF1CBA64" +
	"ECFB850458DBEF0A8AEA71575D060C7DB3970F85A6E1E4C7" +
	"ABF5AE8CDB0933D71E8C94E04A25619DCEE3D2261AD2EE6B" +
	"F12FFA06D98A0864D87602733EC86A64521F2B18177B200C" +
	"BBE117577A615D6C770988C0BAD946E208E24FA074E5AB31" +
	"43DB5BFCE0FD108E4B82D120A93AD2CAFFFFFFFFFFFFFFFF"

const (
	generatorHex  = "2"
	derivedKeyTag = "Caldera Derived Key"
	// TimestampLayout matches the provider's expected claim timestamp, day without padding.
	TimestampLayout = "Mon Jan 2 15:04:05 UTC 2006"
)

var (
	bigN = mustHex(primeHex)
	bigG = mustHex(generatorHex)
	bigK = mustHex(HexHash("00" + primeHex + "0" + generatorHex))
)

var errInvalidServerValue = errors.New("invalid srp server value")

func mustHex(value string) *big.Int {
	n, ok := new(big.Int).SetString(value, 16)
	if !ok {
		panic("cognito: invalid hex constant")
	}
	return n
}

// PadHex renders n as an even-length hex string that is never read as negative.
func PadHex(n *big.Int) string {
	return PadHexString(n.Text(16))
}

func PadHexString(value string) string {
	if len(value)%2 == 1 {
		return "0" + value
	}
	if value != "" && strings.ContainsRune("89abcdefABCDEF", rune(value[0])) {
		return "00" + value
	}
	return value
}

// HashSHA256 returns the hex digest of data.
func HashSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HexHash hashes the bytes encoded by a hex string.
func HexHash(value string) string {
	raw, err := hex.DecodeString(value)
	if err != nil {
		panic(fmt.Sprintf("cognito: hex hash of invalid input: %v", err))
	}
	return HashSHA256(raw)
}

// Scrambler computes u = H(pad(A) | pad(B)).
func Scrambler(a, b *big.Int) *big.Int {
	return mustHex(HexHash(PadHex(a) + PadHex(b)))
}

// PrivateValue computes x = H(pad(salt) | H(identity ":" secret)).
func PrivateValue(saltHex, identity, secret string) *big.Int {
	inner := HashSHA256([]byte(identity + ":" + secret))
	return mustHex(HexHash(PadHexString(saltHex) + inner))
}

// Verifier computes v = g^x mod N.
func Verifier(x *big.Int) *big.Int {
	return new(big.Int).Exp(bigG, x, bigN)
}

// ServerPublic computes B = (k*v + g^b) mod N.
func ServerPublic(v, b *big.Int) *big.Int {
	kv := new(big.Int).Mul(bigK, v)
	gb := new(big.Int).Exp(bigG, b, bigN)
	return kv.Add(kv, gb).Mod(kv, bigN)
}

// ServerSecret computes S = (A * v^u)^b mod N.
func ServerSecret(a, v, u, b *big.Int) *big.Int {
	vu := new(big.Int).Exp(v, u, bigN)
	base := new(big.Int).Mul(a, vu)
	base.Mod(base, bigN)
	return base.Exp(base, b, bigN)
}

// DeriveKey turns the shared secret into the 16 byte signing key.
func DeriveKey(secret, u *big.Int) ([]byte, error) {
	ikm, err := hex.DecodeString(PadHex(secret))
	if err != nil {
		return nil, err
	}
	salt, err := hex.DecodeString(PadHex(u))
	if err != nil {
		return nil, err
	}
	key := make([]byte, 16)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, []byte(derivedKeyTag)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Signature signs the claim message with key.
func Signature(key []byte, parts ...[]byte) string {
	mac := hmac.New(sha256.New, key)
	for _, part := range parts {
		mac.Write(part)
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// srpSession holds one client ephemeral key pair.
type srpSession struct {
	a *big.Int
	A *big.Int
}

func newSRPSession(random io.Reader) (*srpSession, error) {
	buf := make([]byte, 128)
	for {
		if _, err := io.ReadFull(random, buf); err != nil {
			return nil, fmt.Errorf("generate srp key: %w", err)
		}
		a := new(big.Int).SetBytes(buf)
		a.Mod(a, bigN)
		if a.Sign() == 0 {
			continue
		}
		A := new(big.Int).Exp(bigG, a, bigN)
		if A.Sign() == 0 {
			continue
		}
		return &srpSession{a: a, A: A}, nil
	}
}

func (s *srpSession) publicHex() string {
	return s.A.Text(16)
}

// sharedKey derives the signing key for a verifier challenge.
func (s *srpSession) sharedKey(serverBHex, saltHex, identity, secret string) ([]byte, error) {
	B, ok := new(big.Int).SetString(serverBHex, 16)
	if !ok || new(big.Int).Mod(B, bigN).Sign() == 0 {
		return nil, errInvalidServerValue
	}
	u := Scrambler(s.A, B)
	if u.Sign() == 0 {
		return nil, errInvalidServerValue
	}
	x := PrivateValue(saltHex, identity, secret)

	// S = (B - k*g^x)^(a + u*x) mod N
	base := new(big.Int).Mul(bigK, Verifier(x))
	base.Sub(B, base)
	base.Mod(base, bigN)
	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, s.a)
	S := new(big.Int).Exp(base, exp, bigN)
	return DeriveKey(S, u)
}

// claim answers a PASSWORD_VERIFIER or DEVICE_PASSWORD_VERIFIER challenge.
// prefix is the pool name for users and the device group key for devices.
func (s *srpSession) claim(params map[string]string, prefix, identity, userID, secret string, now time.Time) (map[string]string, error) {
	key, err := s.sharedKey(params["SRP_B"], params["SALT"], prefix+identity, secret)
	if err != nil {
		return nil, err
	}
	secretBlock, err := base64.StdEncoding.DecodeString(params["SECRET_BLOCK"])
	if err != nil {
		return nil, fmt.Errorf("decode secret block: %w", err)
	}
	timestamp := now.UTC().Format(TimestampLayout)
	return map[string]string{
		"TIMESTAMP":                   timestamp,
		"USERNAME":                    userID,
		"PASSWORD_CLAIM_SECRET_BLOCK": params["SECRET_BLOCK"],
		"PASSWORD_CLAIM_SIGNATURE":    Signature(key, []byte(prefix), []byte(identity), secretBlock, []byte(timestamp)),
	}, nil
}

// deviceVerifier builds the verifier config registered for a remembered device.
func deviceVerifier(random io.Reader, groupKey, deviceKey string) (password, verifierB64, saltB64 string, err error) {
	secret := make([]byte, 40)
	if _, err = io.ReadFull(random, secret); err != nil {
		return "", "", "", err
	}
	password = base64.StdEncoding.EncodeToString(secret)

	saltBytes := make([]byte, 16)
	if _, err = io.ReadFull(random, saltBytes); err != nil {
		return "", "", "", err
	}
	saltHex := PadHex(new(big.Int).SetBytes(saltBytes))
	x := PrivateValue(saltHex, groupKey+deviceKey, password)
	verifier, err := hex.DecodeString(PadHex(Verifier(x)))
	if err != nil {
		return "", "", "", err
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", "", "", err
	}
	return password, base64.StdEncoding.EncodeToString(verifier), base64.StdEncoding.EncodeToString(salt), nil
}
