package secretstore

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/betbot/deribit/deribit/types"
)

// 凭证在库中的键
const (
	KeyClientID     = "deribit/client_id"
	KeyClientSecret = "deribit/client_secret"
)

// Store Badger 加密 KV 的薄封装。加密由 Badger 选项提供（value log + key registry）。
type Store struct {
	db *badger.DB
}

type OpenOptions struct {
	Path          string
	EncryptionKey []byte // 32 字节；为空时不加密（不建议）
	ReadOnly      bool
}

func Open(opts OpenOptions) (*Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("secretstore: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly)
	if len(opts.EncryptionKey) > 0 {
		// 加密模式下 Badger 要求开启索引缓存
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20) // 100MB
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("secretstore: 打开 %s 失败: %w", opts.Path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetString 读取字符串值；键不存在时 found 为 false
func (s *Store) GetString(key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, errors.New("secretstore: not opened")
	}
	k := []byte(strings.TrimSpace(key))
	if len(k) == 0 {
		return "", false, errors.New("secretstore: key is empty")
	}
	var (
		out   string
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, err
	}
	return out, found, nil
}

func (s *Store) SetString(key string, val string) error {
	if s == nil || s.db == nil {
		return errors.New("secretstore: not opened")
	}
	k := []byte(strings.TrimSpace(key))
	if len(k) == 0 {
		return errors.New("secretstore: key is empty")
	}
	v := []byte(val)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, v)
	})
}

// PutCredentials 写入交易凭证
func (s *Store) PutCredentials(creds types.Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	if err := s.SetString(KeyClientID, creds.ClientID); err != nil {
		return err
	}
	return s.SetString(KeyClientSecret, creds.ClientSecret)
}

// Credentials 读取交易凭证；任一项缺失时 found 为 false
func (s *Store) Credentials() (types.Credentials, bool, error) {
	id, ok, err := s.GetString(KeyClientID)
	if err != nil || !ok {
		return types.Credentials{}, false, err
	}
	secret, ok, err := s.GetString(KeyClientSecret)
	if err != nil || !ok {
		return types.Credentials{}, false, err
	}
	return types.Credentials{ClientID: id, ClientSecret: secret}, true, nil
}

// ParseKey 解析 32 字节密钥（hex 或 base64）。输入为空时返回 nil。
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	// 先按 hex 解析，避免把 hex 字符串误判为 base64
	rawHex := strings.TrimPrefix(raw, "0x")
	if b, err := hex.DecodeString(rawHex); err == nil {
		if len(b) == 32 {
			return b, nil
		}
		return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
}
