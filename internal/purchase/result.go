package purchase

import (
	"errors"
	"fmt"
)

// ErrUnknownResult is returned by Visit for a nil result, or a Success
// without a verification outcome.
var ErrUnknownResult = errors.New("unknown purchase result")

// Result is the outcome of a single purchase request.
type Result interface {
	isResult()
	fmt.Stringer
}

// Success means the provider completed the purchase. The enclosed
// Verification says whether the transaction passed platform verification.
type Success struct {
	Verification Verification
}

// UserCancelled means the user dismissed the purchase sheet.
type UserCancelled struct{}

// Pending means the platform deferred the purchase. The transaction, if any,
// arrives later out of band.
type Pending struct{}

func (Success) isResult()       {}
func (UserCancelled) isResult() {}
func (Pending) isResult()       {}

func (s Success) String() string {
	if s.Verification == nil {
		return "success(unknown)"
	}
	return "success(" + s.Verification.String() + ")"
}
func (UserCancelled) String() string { return "user_cancelled" }
func (Pending) String() string       { return "pending" }

// Verification is the platform verification outcome of a successful purchase.
type Verification interface {
	isVerification()
	fmt.Stringer
}

// Verified wraps a transaction that passed verification.
type Verified struct {
	Transaction Transaction
}

// Unverified wraps a transaction that failed verification.
type Unverified struct {
	Transaction Transaction
	Reason      error
}

func (Verified) isVerification()   {}
func (Unverified) isVerification() {}

func (Verified) String() string   { return "verified" }
func (Unverified) String() string { return "unverified" }

// Visitor handles every purchase result variant. Adding a variant to this
// package adds a method here, so existing visitors stop compiling until they
// handle it.
type Visitor interface {
	Verified(tx Transaction)
	Unverified(tx Transaction, reason error)
	UserCancelled()
	Pending()
}

// Visit dispatches r to the matching Visitor method.
// Returns ErrUnknownResult if r is nil or carries no verification.
func Visit(r Result, v Visitor) error {
	switch res := r.(type) {
	case Success:
		switch ver := res.Verification.(type) {
		case Verified:
			v.Verified(ver.Transaction)
		case Unverified:
			v.Unverified(ver.Transaction, ver.Reason)
		default:
			return fmt.Errorf("%w: %s", ErrUnknownResult, res)
		}
	case UserCancelled:
		v.UserCancelled()
	case Pending:
		v.Pending()
	default:
		return fmt.Errorf("%w: %T", ErrUnknownResult, r)
	}
	return nil
}
