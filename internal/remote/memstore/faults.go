package memstore

// Op names a store operation for call accounting and fault injection.
type Op string

const (
	OpFindCompany         Op = "FindCompanyByExternalID"
	OpCreateCompany       Op = "CreateCompany"
	OpUpdateCompany       Op = "UpdateCompany"
	OpFindCustomer        Op = "FindCustomerByEmail"
	OpCreateContact       Op = "CreateCompanyContact"
	OpAssociateCustomer   Op = "AssociateCustomerWithCompany"
	OpFindContact         Op = "FindCompanyContact"
	OpFindLocation        Op = "FindLocationByExternalID"
	OpFindDefaultLocation Op = "FindDefaultLocation"
	OpCreateLocation      Op = "CreateLocation"
	OpUpdateLocation      Op = "UpdateLocation"
	OpIsAssigned          Op = "IsAssigned"
	OpCreateAssignment    Op = "CreateRoleAssignment"
	OpGetOrCreateRole     Op = "GetOrCreateContactRole"
)

// fault is an injected error. An empty key matches every call; remaining
// below zero never runs out.
type fault struct {
	op        Op
	key       string
	remaining int
	err       error
}

// FailOn makes every call to op fail with err.
func (s *Store) FailOn(op Op, err error) {
	s.addFault(&fault{op: op, remaining: -1, err: err})
}

// FailNext makes the next n calls to op fail with err.
func (s *Store) FailNext(op Op, n int, err error) {
	s.addFault(&fault{op: op, remaining: n, err: err})
}

// FailFor makes calls to op whose key argument equals key fail with err.
// The key is the external id for company and location calls, the email for
// customer lookups and contact creation, and "contactID|locationID" for
// assignment calls.
func (s *Store) FailFor(op Op, key string, err error) {
	s.addFault(&fault{op: op, key: key, remaining: -1, err: err})
}

// OnCall registers fn to run before every call to op, outside the store lock.
func (s *Store) OnCall(op Op, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[op] = append(s.hooks[op], fn)
}

// ClearFaults removes all injected faults and hooks.
func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
	s.hooks = make(map[Op][]func())
}

func (s *Store) addFault(f *fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, f)
}

// takeFault consumes the first matching fault. Caller holds the lock.
func (s *Store) takeFault(op Op, key string) error {
	for _, f := range s.faults {
		if f.op != op || f.remaining == 0 || (f.key != "" && f.key != key) {
			continue
		}
		if f.remaining > 0 {
			f.remaining--
		}
		return f.err
	}
	return nil
}

// Calls returns the number of calls made per operation.
func (s *Store) Calls() map[Op]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Op]int, len(s.calls))
	for op, n := range s.calls {
		out[op] = n
	}
	return out
}

// TotalCalls returns the number of calls made across all operations.
func (s *Store) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// ResetCalls zeroes the call counters.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[Op]int)
}
