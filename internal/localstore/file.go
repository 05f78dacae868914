// Package localstore は端末ローカルの永続キーバリューストアを提供する。
// 値は~/.config/sellerdesk/local.tomlのようなTOMLファイルに保存する。
package localstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
)

// DefaultPath はデフォルトの保存先パス。
const DefaultPath = "~/.config/sellerdesk/local.toml"

// document はファイルに保存する内容。
type document struct {
	Items map[string]string `toml:"items"`
}

// FileStore はTOMLファイルに保存するキーバリューストア。
// 読み取りはメモリ上の値から行い、書き込みのたびにファイル全体を置き換える。
type FileStore struct {
	path string

	mu    sync.RWMutex
	items map[string]string
}

// OpenFileStore は指定パスのストアを開く。ファイルが存在しない場合は空のストアを返す。
// ファイルが壊れている場合も空のストアとして扱い、次の書き込みで上書きする。
func OpenFileStore(path string) (*FileStore, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	s := &FileStore{path: resolved, items: make(map[string]string)}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read local store: %w", err)
	}

	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		slog.Warn("local store is corrupted, starting empty",
			slog.String("path", resolved),
			slog.String("error", err.Error()),
		)
		return s, nil
	}
	for k, v := range doc.Items {
		s.items[k] = v
	}

	return s, nil
}

// Path は解決済みのファイルパスを返す。
func (s *FileStore) Path() string {
	return s.path
}

// GetItem はキーに対応する値を返す。存在しない場合はfalseを返す。
func (s *FileStore) GetItem(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// SetItem は値を保存する。
func (s *FileStore) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.items[key]
	s.items[key] = value
	if err := s.flushLocked(); err != nil {
		if existed {
			s.items[key] = prev
		} else {
			delete(s.items, key)
		}
		return err
	}
	return nil
}

// RemoveItem は値を削除する。存在しないキーの削除はエラーにしない。
func (s *FileStore) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.items[key]
	if !existed {
		return nil
	}
	delete(s.items, key)
	if err := s.flushLocked(); err != nil {
		s.items[key] = prev
		return err
	}
	return nil
}

// flushLocked は一時ファイルに書き出してからリネームし、ファイル全体を置き換える。
func (s *FileStore) flushLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create local store dir: %w", err)
	}

	data, err := toml.Marshal(document{Items: s.items})
	if err != nil {
		return fmt.Errorf("marshal local store: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".local-*.toml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write local store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close local store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace local store: %w", err)
	}
	return nil
}

func resolvePath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = DefaultPath
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
