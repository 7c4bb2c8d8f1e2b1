package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sparklane/sparklane/types"
)

// Reserve is the serialization point of a deploy. In one transaction it
// checks that vm:{id}, instance:{id} and subdomain:{name} are all absent,
// then writes instance:{id} and subdomain:{name}. Any existing key aborts
// the transaction with ErrExists and nothing is written.
func Reserve(ctx context.Context, r Registry, inst *types.Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal instance %s: %w", inst.ID, err)
	}
	return r.Update(ctx, func(txn Txn) error {
		for _, key := range []string{VMKey(inst.ID), InstanceKey(inst.ID)} {
			ok, err := txn.Exists(key)
			if err != nil {
				return err
			}
			if ok {
				return fmt.Errorf("%w: %s", ErrExists, key)
			}
		}
		taken, err := txn.Exists(SubdomainKey(inst.Subdomain))
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: %s", ErrSubdomainTaken, inst.Subdomain)
		}
		if err := txn.Set(InstanceKey(inst.ID), data); err != nil {
			return err
		}
		return txn.Set(SubdomainKey(inst.Subdomain), []byte(inst.ID))
	})
}

// Release deletes instance:{id} and, if it still points at id,
// subdomain:{name}. It is the inverse of Reserve.
func Release(ctx context.Context, r Registry, id, subdomain string) error {
	return r.Update(ctx, func(txn Txn) error {
		return releaseTxn(txn, id, subdomain)
	})
}

func releaseTxn(txn Txn, id, subdomain string) error {
	if subdomain != "" {
		owner, err := txn.Get(SubdomainKey(subdomain))
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		case string(owner) == id:
			if err := txn.Delete(SubdomainKey(subdomain)); err != nil {
				return err
			}
		}
	}
	return txn.Delete(InstanceKey(id))
}

// Purge deletes vm:{id} and instance:{id} of a torn-down instance. Its
// subdomain:{name} key stays behind as a tombstone naming the old id, so a
// name once served is never handed out again. Missing keys are ignored.
func Purge(ctx context.Context, r Registry, id string) error {
	return r.Update(ctx, func(txn Txn) error {
		if err := txn.Delete(VMKey(id)); err != nil {
			return err
		}
		return txn.Delete(InstanceKey(id))
	})
}

// GetInstance loads instance:{id}.
func GetInstance(ctx context.Context, r Registry, id string) (*types.Instance, error) {
	data, err := r.Get(ctx, InstanceKey(id))
	if err != nil {
		return nil, err
	}
	var inst types.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("decode instance %s: %w", id, err)
	}
	return &inst, nil
}

// ListInstances returns every instance record ordered by creation time.
func ListInstances(ctx context.Context, r Registry) ([]*types.Instance, error) {
	kvs, err := r.ScanPrefix(ctx, InstancePrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Instance, 0, len(kvs))
	for _, kv := range kvs {
		var inst types.Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kv.Key, err)
		}
		out = append(out, &inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PutVM writes the vm:{id} marker.
func PutVM(ctx context.Context, r Registry, vm *types.VM) error {
	data, err := json.Marshal(vm)
	if err != nil {
		return fmt.Errorf("marshal vm %s: %w", vm.ID, err)
	}
	return r.Insert(ctx, VMKey(vm.ID), data)
}

// GetVM loads the vm:{id} marker.
func GetVM(ctx context.Context, r Registry, id string) (*types.VM, error) {
	data, err := r.Get(ctx, VMKey(id))
	if err != nil {
		return nil, err
	}
	var vm types.VM
	if err := json.Unmarshal(data, &vm); err != nil {
		return nil, fmt.Errorf("decode vm %s: %w", id, err)
	}
	return &vm, nil
}

// UpdateVM applies fn to the stored vm:{id} marker inside one transaction.
func UpdateVM(ctx context.Context, r Registry, id string, fn func(*types.VM)) error {
	return r.Update(ctx, func(txn Txn) error {
		data, err := txn.Get(VMKey(id))
		if err != nil {
			return err
		}
		var vm types.VM
		if err := json.Unmarshal(data, &vm); err != nil {
			return fmt.Errorf("decode vm %s: %w", id, err)
		}
		fn(&vm)
		if data, err = json.Marshal(&vm); err != nil {
			return fmt.Errorf("marshal vm %s: %w", id, err)
		}
		return txn.Set(VMKey(id), data)
	})
}

// InstanceIDs returns the set of IDs that have an instance record.
func InstanceIDs(ctx context.Context, r Registry) (map[string]struct{}, error) {
	kvs, err := r.ScanPrefix(ctx, InstancePrefix)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(kvs))
	for _, kv := range kvs {
		ids[strings.TrimPrefix(kv.Key, InstancePrefix)] = struct{}{}
	}
	return ids, nil
}
