// Package projections turns the jobsite event stream into the queryable read
// model. A Consumer owns one checkpointed subscription per projection group,
// the Projector applies each event transactionally, and committed changes are
// fanned out through the broadcast hub. Delivery is at-least-once: a restart
// resumes from the last checkpoint and replays are detected, not re-applied.
package projections
