package dynamodb

import (
	"fmt"
	"strings"
	"time"

	"github.com/compactmgr/engine/types"
)

// Key builders for the single-table provider-data design. Every record in a
// provider's partition shares pk {compact}#PROVIDER#{providerID}; the sort
// key carries a type prefix plus the record's natural identifiers.
//
// Update-history sort keys embed a numeric tier (1=privilege, 2=provider,
// 3=license) immediately after the UPDATE prefix. Because every non-UPDATE
// prefix sorts below "UPDATE" and tiers sort numerically, a single range
// query with upper bound sk < {compact}#UPDATE#{t+1} returns all base
// records plus exactly the history tiers <= t.

func validateKeyPart(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}

	if strings.Contains(value, "#") {
		return fmt.Errorf("%s cannot contain '#'", name)
	}

	return nil
}

func buildProviderPartitionKey(compact, providerID string) (string, error) {
	if err := validateKeyPart("compact", compact); err != nil {
		return "", err
	}

	if err := validateKeyPart("providerID", providerID); err != nil {
		return "", err
	}

	return compact + "#PROVIDER#" + providerID, nil
}

func buildProviderSortKey(compact string) (string, error) {
	if err := validateKeyPart("compact", compact); err != nil {
		return "", err
	}

	return compact + "#PROVIDER", nil
}

func buildLicenseSortKey(compact, jurisdiction, licenseType string) (string, error) {
	if err := validateKeyPart("compact", compact); err != nil {
		return "", err
	}

	if err := validateKeyPart("jurisdiction", jurisdiction); err != nil {
		return "", err
	}

	if err := validateKeyPart("licenseType", licenseType); err != nil {
		return "", err
	}

	return compact + "#LICENSE#" + jurisdiction + "#" + licenseType, nil
}

func buildPrivilegeSortKey(compact, jurisdiction, licenseType string) (string, error) {
	if err := validateKeyPart("compact", compact); err != nil {
		return "", err
	}

	if err := validateKeyPart("jurisdiction", jurisdiction); err != nil {
		return "", err
	}

	if err := validateKeyPart("licenseType", licenseType); err != nil {
		return "", err
	}

	return compact + "#PRIVILEGE#" + jurisdiction + "#" + licenseType, nil
}

// buildPrivilegeSortKeyPrefix returns the prefix shared by every privilege
// in the compact, used with begins_with to enumerate a provider's grants.
func buildPrivilegeSortKeyPrefix(compact string) (string, error) {
	if err := validateKeyPart("compact", compact); err != nil {
		return "", err
	}

	return compact + "#PRIVILEGE#", nil
}

func buildAdverseActionSortKey(compact, jurisdiction, licenseType, id string) (string, error) {
	if err := validateKeyPart("compact", compact); err != nil {
		return "", err
	}

	if err := validateKeyPart("jurisdiction", jurisdiction); err != nil {
		return "", err
	}

	if err := validateKeyPart("licenseType", licenseType); err != nil {
		return "", err
	}

	if err := validateKeyPart("id", id); err != nil {
		return "", err
	}

	return compact + "#ADVERSE#" + jurisdiction + "#" + licenseType + "#" + id, nil
}

func buildInvestigationSortKey(compact, jurisdiction, id string) (string, error) {
	if err := validateKeyPart("compact", compact); err != nil {
		return "", err
	}

	if err := validateKeyPart("jurisdiction", jurisdiction); err != nil {
		return "", err
	}

	if err := validateKeyPart("id", id); err != nil {
		return "", err
	}

	return compact + "#INVESTIGATION#" + jurisdiction + "#" + id, nil
}

func buildUpdateSortKey(compact string, tier types.UpdateTier, at time.Time, id string) (string, error) {
	if err := validateKeyPart("compact", compact); err != nil {
		return "", err
	}

	if tier < types.TierPrivilege || tier > types.TierLicense {
		return "", fmt.Errorf("invalid update tier %d", tier)
	}

	if err := validateKeyPart("id", id); err != nil {
		return "", err
	}

	return fmt.Sprintf("%s#UPDATE#%d#%s#%s", compact, tier, at.UTC().Format(time.RFC3339Nano), id), nil
}

// buildUpdateTierUpperBound returns the exclusive sort-key upper bound that
// admits history tiers <= maxTier. maxTier 0 admits no history at all.
func buildUpdateTierUpperBound(compact string, maxTier types.UpdateTier) (string, error) {
	if err := validateKeyPart("compact", compact); err != nil {
		return "", err
	}

	if maxTier < 0 || maxTier > types.TierLicense {
		return "", fmt.Errorf("invalid update tier %d", maxTier)
	}

	return fmt.Sprintf("%s#UPDATE#%d", compact, maxTier+1), nil
}

func buildSSNIndexKey(compact, ssn string) (string, error) {
	if err := validateKeyPart("compact", compact); err != nil {
		return "", err
	}

	if err := validateKeyPart("ssn", ssn); err != nil {
		return "", err
	}

	return compact + "#SSN#" + ssn, nil
}

func buildUserPartitionKey(userID string) (string, error) {
	if err := validateKeyPart("userID", userID); err != nil {
		return "", err
	}

	return "USER#" + userID, nil
}

func buildUserCompactSortKey(compact string) (string, error) {
	if err := validateKeyPart("compact", compact); err != nil {
		return "", err
	}

	return "COMPACT#" + compact, nil
}
