// Package leader implements leader-follower coordination groups. One agent's
// context is authoritative per group; elections record a strictly increasing
// term, updates fan out from the leader concurrently, and followers track
// their replication lag. A failover sweep compares the leader's last
// heartbeat against the election timeout and re-elects over the remaining
// followers when it goes stale.
//
// The election protocol (term, heartbeat, failover) is the contract; the
// selection function choosing among eligible candidates is pluggable.
package leader
