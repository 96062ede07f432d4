package domain

import "errors"

// Validation and trial lifecycle errors. Data-validity errors abort only the
// single call that produced them; trial-fatal conditions terminate only the
// affected trial instance. The core never retries automatically.
var (
	// ErrInvalidPlan marks an empty or malformed treatment plan. An empty
	// plan is rejected before fitness computation, never scored as zero.
	ErrInvalidPlan = errors.New("invalid treatment plan")

	// ErrInvalidPatient marks a profile missing required demographic or
	// clinical fields. Rejected before optimization starts.
	ErrInvalidPatient = errors.New("invalid patient profile")

	// ErrNoEligibleArm means the patient satisfies the stratification
	// criteria of no trial arm. The patient is excluded; the trial continues.
	ErrNoEligibleArm = errors.New("no eligible trial arm")

	// ErrAllArmsDropped means every arm was dropped simultaneously. The
	// trial terminates immediately with status Failed.
	ErrAllArmsDropped = errors.New("all trial arms dropped")

	// ErrUnknownDrug marks a reference to a drug absent from the formulary.
	ErrUnknownDrug = errors.New("drug not in formulary")
)
