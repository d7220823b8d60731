package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"chat-timeline/internal/constants"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// 儲存格式前綴
const (
	PlaintextPrefix = "plaintext:"
	SealedPrefix    = "xc20p1305:"
)

// ErrInvalidCiphertext 密文格式錯誤或遭竄改.
var ErrInvalidCiphertext = errors.New("encryption: invalid ciphertext")

// Sealer 訊息內容靜態加密.
//
// 每個頻道的金鑰以 HKDF-SHA256 從主密鑰導出（info = 頻道 ID），
// 內容以 XChaCha20-Poly1305 加密，頻道 ID 作為附加資料.
// 停用時以 "plaintext:" 前綴儲存，兩種格式都能被 Open 讀取.
type Sealer struct {
	enabled   bool
	masterKey []byte

	mu    sync.Mutex
	aeads map[string]cipher.AEAD
}

// NewSealer 建立加密器；enabled 為 false 時 masterKey 可為 nil.
func NewSealer(enabled bool, masterKey []byte) (*Sealer, error) {
	if enabled && len(masterKey) != constants.MasterKeyLength {
		return nil, fmt.Errorf("master key 必須為 %d bytes，實際 %d", constants.MasterKeyLength, len(masterKey))
	}
	key := make([]byte, len(masterKey))
	copy(key, masterKey)
	return &Sealer{enabled: enabled, masterKey: key, aeads: make(map[string]cipher.AEAD)}, nil
}

// NewSealerFromEnv 從 MASTER_KEY（base64）建立加密器.
func NewSealerFromEnv(enabled bool) (*Sealer, error) {
	if !enabled {
		return NewSealer(false, nil)
	}
	encoded := os.Getenv("MASTER_KEY")
	if encoded == "" {
		return nil, errors.New("已啟用加密但未設定 MASTER_KEY")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("MASTER_KEY 不是有效的 base64: %w", err)
	}
	return NewSealer(true, key)
}

// Enabled 是否啟用加密.
func (s *Sealer) Enabled() bool {
	return s.enabled
}

func (s *Sealer) aead(channelID string) (cipher.AEAD, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.aeads[channelID]; ok {
		return a, nil
	}

	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, s.masterKey, nil, []byte("chat-timeline/channel/"+channelID))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("導出頻道金鑰失敗: %w", err)
	}
	a, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("建立加密器失敗: %w", err)
	}
	s.aeads[channelID] = a
	return a, nil
}

// Seal 加密訊息內容.
func (s *Sealer) Seal(channelID, content string) (string, error) {
	if !s.enabled {
		return PlaintextPrefix + content, nil
	}
	a, err := s.aead(channelID)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, a.NonceSize(), a.NonceSize()+len(content)+a.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("產生 nonce 失敗: %w", err)
	}
	sealed := a.Seal(nonce, nonce, []byte(content), []byte(channelID))
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open 解密訊息內容；沒有前綴的舊資料原樣回傳.
func (s *Sealer) Open(channelID, stored string) (string, error) {
	switch {
	case strings.HasPrefix(stored, PlaintextPrefix):
		return strings.TrimPrefix(stored, PlaintextPrefix), nil
	case strings.HasPrefix(stored, SealedPrefix):
	default:
		return stored, nil
	}

	if len(s.masterKey) == 0 {
		return "", fmt.Errorf("未設定 master key，無法解密: %w", ErrInvalidCiphertext)
	}
	a, err := s.aead(channelID)
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, SealedPrefix))
	if err != nil || len(data) < a.NonceSize()+a.Overhead() {
		return "", ErrInvalidCiphertext
	}
	plain, err := a.Open(nil, data[:a.NonceSize()], data[a.NonceSize():], []byte(channelID))
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plain), nil
}
