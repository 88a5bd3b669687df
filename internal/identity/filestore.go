package identity

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	xerrors "OnChainAgents/internal/errors"
)

const registryFile = "wallet_registry.txt"

// FileStore keeps one JSON record and one encrypted seed file per identity in
// a directory, plus a line-per-id registry file.
//
//	<dir>/<id>.json          public record
//	<dir>/<id>_seed.json     keystore document
//	<dir>/wallet_registry.txt
type FileStore struct {
	mu       sync.Mutex
	dir      string
	known    map[string]struct{}
	order    []string
	registry *os.File
}

type fileRecord struct {
	ID        string `json:"identity_id"`
	Address   string `json:"public_address"`
	Network   string `json:"network"`
	CreatedAt string `json:"created_at"`
}

// NewFileStore opens (creating if needed) a store rooted at dir and loads the
// registry into memory.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("身份存储目录不能为空")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建身份存储目录失败")
	}

	s := &FileStore{dir: dir, known: map[string]struct{}{}}
	if err := s.loadRegistry(); err != nil {
		return nil, err
	}

	registry, err := os.OpenFile(s.registryPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开身份注册表失败")
	}
	s.registry = registry
	return s, nil
}

// Put writes the seed file first and the record last, so a record on disk
// always has its seed next to it.
func (s *FileStore) Put(_ context.Context, record Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(fileRecord{
		ID:        record.ID,
		Address:   record.Address,
		Network:   record.Network,
		CreatedAt: record.CreatedAt.UTC().Format(timeLayout),
	}, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化身份记录失败")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.seedPath(record.ID), record.EncryptedSecret); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入加密种子失败")
	}
	if err := writeFileAtomic(s.recordPath(record.ID), payload); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入身份记录失败")
	}
	return nil
}

// Get loads a record and its seed.
func (s *FileStore) Get(_ context.Context, id string) (Record, error) {
	if err := ValidateID(id); err != nil {
		return Record{}, err
	}

	content, err := os.ReadFile(s.recordPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, xerrors.New(xerrors.CodeNotFound, "身份不存在", xerrors.WithMetadata("identity_id", id))
	}
	if err != nil {
		return Record{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取身份记录失败")
	}

	var stored fileRecord
	if err := json.Unmarshal(content, &stored); err != nil {
		return Record{}, xerrors.Wrap(xerrors.CodeDeserialization, err, "身份记录已损坏", xerrors.WithMetadata("identity_id", id))
	}
	if stored.ID != id || stored.Address == "" {
		return Record{}, xerrors.New(xerrors.CodeDeserialization, "身份记录内容不完整", xerrors.WithMetadata("identity_id", id))
	}
	createdAt, err := parseTime(stored.CreatedAt)
	if err != nil {
		return Record{}, xerrors.Wrap(xerrors.CodeDeserialization, err, "身份记录时间戳无效", xerrors.WithMetadata("identity_id", id))
	}

	seed, err := os.ReadFile(s.seedPath(id))
	if err != nil {
		return Record{}, xerrors.Wrap(xerrors.CodeDeserialization, err, "加密种子缺失", xerrors.WithMetadata("identity_id", id))
	}
	if !json.Valid(seed) {
		return Record{}, xerrors.New(xerrors.CodeDeserialization, "加密种子已损坏", xerrors.WithMetadata("identity_id", id))
	}

	return Record{
		ID:              stored.ID,
		Address:         stored.Address,
		Network:         stored.Network,
		CreatedAt:       createdAt,
		EncryptedSecret: json.RawMessage(seed),
	}, nil
}

// Exists reports whether a record file is present.
func (s *FileStore) Exists(_ context.Context, id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	_, err := os.Stat(s.recordPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "检查身份记录失败")
	}
	return true, nil
}

// Register appends id to the registry unless it is already known.
func (s *FileStore) Register(_ context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.known[id]; ok {
		return nil
	}
	if s.registry == nil {
		return xerrors.New(xerrors.CodeStorageFailure, "身份存储已关闭")
	}
	if _, err := s.registry.WriteString(id + "\n"); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入身份注册表失败")
	}
	if err := s.registry.Sync(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "同步身份注册表失败")
	}
	s.known[id] = struct{}{}
	s.order = append(s.order, id)
	return nil
}

// Registered returns the registry in registration order.
func (s *FileStore) Registered(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out, nil
}

// Close releases the registry file handle.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registry == nil {
		return nil
	}
	err := s.registry.Close()
	s.registry = nil
	return err
}

// loadRegistry tolerates duplicate lines written by older versions and
// keeps the first occurrence.
func (s *FileStore) loadRegistry() error {
	file, err := os.Open(s.registryPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取身份注册表失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id == "" {
			continue
		}
		if _, ok := s.known[id]; ok {
			continue
		}
		s.known[id] = struct{}{}
		s.order = append(s.order, id)
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析身份注册表失败")
	}
	return nil
}

func (s *FileStore) recordPath(id string) string { return filepath.Join(s.dir, id+".json") }
func (s *FileStore) seedPath(id string) string   { return filepath.Join(s.dir, id+"_seed.json") }
func (s *FileStore) registryPath() string        { return filepath.Join(s.dir, registryFile) }

// writeFileAtomic writes to a temp file in the same directory, fsyncs it and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Directory fsync is best effort.
	_ = d.Sync()
	return nil
}

var _ Store = (*FileStore)(nil)
