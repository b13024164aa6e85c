package domain

// Tenant identifies the domain a unit of work belongs to. Multiple unrelated
// tenants share one gateway process; every operation and every background
// task is bound to an explicit Tenant rather than ambient state.
type Tenant string

func (t Tenant) String() string { return string(t) }
