package repository

import "errors"

// Sentinel errors surfaced by transactional repository operations. Services
// translate these into typed API errors.
var (
	// ErrClassInactive is returned when a roster mutation targets an
	// inactive class. Checked under the class row lock, so it is
	// authoritative even against concurrent deactivation.
	ErrClassInactive = errors.New("class is not active")

	// ErrDuplicateEnrollment is returned when the student already holds a
	// live enrollment in the class.
	ErrDuplicateEnrollment = errors.New("student already enrolled")

	// ErrNoSeat is returned when a seat-taking transition would exceed the
	// class capacity.
	ErrNoSeat = errors.New("no free seat")

	// ErrInvalidState is returned when a guarded status transition finds
	// the row in a state the transition does not start from.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrDuplicatePeriod is returned when an installment run overlaps an
	// existing period for the enrollment.
	ErrDuplicatePeriod = errors.New("installment period already exists")

	// ErrInstallmentTaken is returned when an installment already carries
	// an allocation.
	ErrInstallmentTaken = errors.New("installment already allocated")

	// ErrOverAllocated is returned when allocations would exceed the
	// payment total.
	ErrOverAllocated = errors.New("allocations exceed payment total")

	// ErrAlreadyFinalized is returned when a payment was finalized or
	// canceled before the operation took its lock.
	ErrAlreadyFinalized = errors.New("payment already finalized")

	// ErrAllocationConflict is returned when a target installment was paid
	// or canceled between allocation and finalization.
	ErrAllocationConflict = errors.New("allocated installment no longer payable")
)
