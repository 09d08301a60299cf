package node

import (
	stderrors "errors"

	"github.com/goccy/go-yaml"

	"github.com/shawnbrown/toron/pkg/errors"
)

// Property keys for node-level state kept in the property repository.
const (
	propUniqueID             = "unique_id"
	propIndexColumns         = "index_columns"
	propDiscreteCategories   = "discrete_categories"
	propDomain               = "domain"
	propIndexHash            = "index_hash"
	propDefaultWeightGroupID = "default_weight_group_id"
)

// getProperty unmarshals the property stored under key into out.
// Returns ErrNotFound when the key is absent.
func getProperty(tx Tx, key string, out any) error {
	raw, err := tx.Properties().Get(key)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return errors.WrapStore("get", "property "+key, err)
	}
	return nil
}

// setProperty marshals value and stores it under key.
func setProperty(tx Tx, key string, value any) error {
	raw, err := yaml.Marshal(value)
	if err != nil {
		return errors.WrapStore("set", "property "+key, err)
	}
	return tx.Properties().Set(key, raw)
}

// UniqueID returns the node's identity string, or "" when unset.
func UniqueID(tx Tx) (string, error) {
	var id string
	err := getProperty(tx, propUniqueID, &id)
	if stderrors.Is(err, errors.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// SetUniqueID stores the node's identity string.
func SetUniqueID(tx Tx, uniqueID string) error {
	return setProperty(tx, propUniqueID, uniqueID)
}

// IndexHash returns the node's current index fingerprint, or "" when
// no index records have been added.
func IndexHash(tx Tx) (string, error) {
	var hash string
	err := getProperty(tx, propIndexHash, &hash)
	if stderrors.Is(err, errors.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

// Domain returns the node's domain: attribute key/value pairs that
// apply to the whole node.
func Domain(tx Tx) (map[string]string, error) {
	domain := make(map[string]string)
	err := getProperty(tx, propDomain, &domain)
	if stderrors.Is(err, errors.ErrNotFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return domain, nil
}

// SetDomain stores the node's domain. Domain keys must not collide
// with index columns or quantity attribute names.
func SetDomain(tx Tx, domain map[string]string) error {
	columns, err := Columns(tx)
	if err != nil {
		return err
	}
	attributeNames, err := tx.AttributeGroups().AllAttributeNames()
	if err != nil {
		return err
	}

	columnSet := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		columnSet[col] = struct{}{}
	}
	attributeSet := make(map[string]struct{}, len(attributeNames))
	for _, name := range attributeNames {
		attributeSet[name] = struct{}{}
	}

	for key := range domain {
		if _, ok := columnSet[key]; ok {
			return errors.NewValidationError("domain", key,
				"already used as an index column")
		}
		if _, ok := attributeSet[key]; ok {
			return errors.NewValidationError("domain", key,
				"already used as a quantity attribute")
		}
	}

	return setProperty(tx, propDomain, domain)
}

// DefaultWeightGroupID returns the id of the node's default weight
// group, or ErrNotFound when none is set.
func DefaultWeightGroupID(tx Tx) (uint64, error) {
	var id uint64
	if err := getProperty(tx, propDefaultWeightGroupID, &id); err != nil {
		return 0, err
	}
	return id, nil
}

// SetDefaultWeightGroup marks the given group as the node's default.
func SetDefaultWeightGroup(tx Tx, weightGroupID uint64) error {
	if _, err := tx.WeightGroups().Get(weightGroupID); err != nil {
		return err
	}
	return setProperty(tx, propDefaultWeightGroupID, weightGroupID)
}
