package blobstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/xssnick/tonutils-go/tvm/cell"
)

// Archive stores every code cell the gateway has ever run, keyed by its
// representation hash, plus data snapshots per logical time.
type Archive struct {
	store Store
}

func NewArchive(store Store) (*Archive, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	return &Archive{store: store}, nil
}

func CodeKey(hash []byte) string {
	return "code/" + hex.EncodeToString(hash) + ".boc"
}

func SnapshotKey(account string, lt uint64) string {
	return "snapshots/" + account + "/" + strconv.FormatUint(lt, 10) + ".boc"
}

// PutCode uploads code under its hash and returns the key. Code that is
// already archived counts as stored.
func (a *Archive) PutCode(ctx context.Context, code *cell.Cell) (string, error) {
	if code == nil {
		return "", errors.New("blobstore: nil code")
	}
	key := CodeKey(code.Hash())
	if err := a.put(ctx, key, code, map[string]string{"artifact-type": "code"}); err != nil {
		return "", err
	}
	return key, nil
}

// put treats ErrAlreadyExists as stored. A key always names the same
// content: a code hash, or account data at one logical time.
func (a *Archive) put(ctx context.Context, key string, c *cell.Cell, meta map[string]string) error {
	err := a.store.Put(ctx, key, c.ToBOC(), meta)
	if err != nil && !errors.Is(err, ErrAlreadyExists) {
		return err
	}
	return nil
}

func (a *Archive) GetCode(ctx context.Context, hash []byte) (*cell.Cell, error) {
	obj, err := a.store.Get(ctx, CodeKey(hash))
	if err != nil {
		return nil, err
	}
	c, err := cell.FromBOC(obj.Data)
	if err != nil {
		return nil, fmt.Errorf("blobstore: decode code %x: %w", hash, err)
	}
	return c, nil
}

func (a *Archive) PutSnapshot(ctx context.Context, account string, lt uint64, data *cell.Cell) (string, error) {
	if data == nil {
		return "", errors.New("blobstore: nil data")
	}
	key := SnapshotKey(account, lt)
	meta := map[string]string{
		"artifact-type": "snapshot",
		"account":       account,
		"lt":            strconv.FormatUint(lt, 10),
	}
	if err := a.put(ctx, key, data, meta); err != nil {
		return "", err
	}
	return key, nil
}

func (a *Archive) GetSnapshot(ctx context.Context, account string, lt uint64) (*cell.Cell, error) {
	obj, err := a.store.Get(ctx, SnapshotKey(account, lt))
	if err != nil {
		return nil, err
	}
	c, err := cell.FromBOC(obj.Data)
	if err != nil {
		return nil, fmt.Errorf("blobstore: decode snapshot: %w", err)
	}
	return c, nil
}
