// Package campaign implements one-off bulk sends to a filtered audience.
//
// The service layer contains the lifecycle logic: draft campaigns are
// resolved against the contact store at send time, rendered per recipient,
// and enqueued on the scheduled message queue. It depends on the interfaces
// defined in this package; implementations live in repository/postgres/.
package campaign
