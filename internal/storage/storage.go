// Package storage implements the node persistence contract over a
// minimal ordered key-value abstraction, so the same repository code
// serves both the in-memory store and the BadgerDB store.
package storage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/shawnbrown/toron/pkg/errors"
)

// ErrKeyNotFound is returned by KV.Get for absent keys.
var ErrKeyNotFound = errors.New("storage: key not found")

// KV is one open transaction over an ordered key-value space. Scan
// visits keys in ascending byte order.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Scan(prefix []byte, fn func(key, value []byte) error) error
}

// Key layout. Entity rows live under per-entity prefixes with
// zero-padded hex ids so byte order equals id order; lookup rows map
// a natural key back to an id.
const (
	prefixSeq = "seq/"

	prefixIndex      = "idx/"
	prefixIndexLabel = "idxlbl/"

	prefixLocation      = "loc/"
	prefixLocationLabel = "loclbl/"

	prefixStructure = "str/"

	prefixWeightGroup     = "wgrp/"
	prefixWeightGroupName = "wgrpname/"

	prefixWeight           = "wght/"
	prefixWeightGroupIndex = "wghtgi/"

	prefixAttributeGroup    = "attr/"
	prefixAttributeGroupKey = "attrkey/"

	prefixQuantity         = "qty/"
	prefixQuantityLocation = "qtyloc/"

	prefixCrosswalk = "xwalk/"

	prefixRelation    = "rel/"
	prefixRelationRef = "relref/"

	prefixProperty = "prop/"
)

func idKey(prefix string, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefix, id))
}

func refKey(prefix string, ids ...uint64) []byte {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%016x", id)
	}
	return []byte(prefix + strings.Join(parts, "/"))
}

// labelKey joins a label tuple into a lookup key suffix. The unit
// separator cannot appear in labels, so the joined form is unique.
func labelKey(labels []string) string {
	return strings.Join(labels, "\x1f")
}

// attributesKey canonicalizes an attribute dictionary. Empty values
// are dropped so {"a": "x", "b": ""} and {"a": "x"} collide, matching
// attribute-group deduplication.
func attributesKey(attributes map[string]string) string {
	pairs := make([]string, 0, len(attributes))
	for key, value := range attributes {
		if value == "" {
			continue
		}
		pairs = append(pairs, key+"\x1e"+value)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "\x1f")
}

func encode(v any) ([]byte, error) {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return nil, errors.WrapStore("encode", fmt.Sprintf("%T", v), err)
	}
	return raw, nil
}

func decode(raw []byte, out any) error {
	if err := yaml.Unmarshal(raw, out); err != nil {
		return errors.WrapStore("decode", fmt.Sprintf("%T", out), err)
	}
	return nil
}

// nextSeq advances and returns the named sequence. Sequences start at
// start for their first value and never reuse ids, deletions included.
func nextSeq(kv KV, name string, start uint64) (uint64, error) {
	key := []byte(prefixSeq + name)
	var next uint64

	raw, err := kv.Get(key)
	switch {
	case err == nil:
		var last uint64
		if err := decode(raw, &last); err != nil {
			return 0, err
		}
		next = last + 1
	case errors.Is(err, ErrKeyNotFound):
		next = start
	default:
		return 0, err
	}

	raw, err = encode(next)
	if err != nil {
		return 0, err
	}
	if err := kv.Set(key, raw); err != nil {
		return 0, err
	}
	return next, nil
}
