package contract

import "fmt"

// UnknownDatasetError is returned when no contract (or no such version) is registered.
type UnknownDatasetError struct {
	Dataset string
	Version int
}

func (e *UnknownDatasetError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("unknown dataset %q version %d", e.Dataset, e.Version)
	}
	return fmt.Sprintf("unknown dataset %q", e.Dataset)
}

// InvalidContractError is returned when a contract violates a structural rule.
type InvalidContractError struct {
	Dataset string
	Reason  string
}

func (e *InvalidContractError) Error() string {
	if e.Dataset == "" {
		return "invalid contract: " + e.Reason
	}
	return fmt.Sprintf("invalid contract for %q: %s", e.Dataset, e.Reason)
}

// MigrationRequiredError is returned when a changed contract is registered without a migration marker.
type MigrationRequiredError struct {
	Dataset       string
	ActiveVersion int
}

func (e *MigrationRequiredError) Error() string {
	return fmt.Sprintf("dataset %q already has active contract version %d; a migration marker is required to switch versions", e.Dataset, e.ActiveVersion)
}
