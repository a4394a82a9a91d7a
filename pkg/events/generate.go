package events

import "time"

// GenerateSample returns a small cloud activity log: ordinary user and
// resource activity plus three suspicious events (an unfamiliar user reading a
// database at high volume, the same user modifying a security group, and an
// unusual resource-to-database connection). Timestamps are offsets from base.
func GenerateSample(base time.Time) []Event {
	t := base.Unix()
	ev := func(src, srcType, dst, dstType, rel string, offset int64, f1, f2 float64) Event {
		return Event{
			SourceID:         src,
			SourceType:       srcType,
			TargetID:         dst,
			TargetType:       dstType,
			RelationshipType: rel,
			Timestamp:        t + offset,
			Feature1:         f1,
			Feature2:         f2,
		}
	}

	return []Event{
		ev("user_1", "user", "vm_a", "resource", "accesses", 10, 10, 0.5),
		ev("user_1", "user", "s3_b", "resource", "accesses", 70, 5, 0.2),
		ev("user_2", "user", "db_c", "resource", "accesses", 110, 15, 0.8),
		ev("vm_a", "resource", "sg_x", "config", "is_member_of", 160, 1, 0),
		ev("s3_b", "resource", "policy_p1", "config", "has_policy", 210, 1, 0),
		ev("user_2", "user", "vm_d", "resource", "accesses", 250, 12, 0.6),
		ev("vm_a", "resource", "vm_d", "resource", "network_conn", 300, 100, 0.1),
		ev("user_1", "user", "vm_d", "resource", "accesses", 350, 8, 0.4),

		ev("user_3_anomalous", "user", "db_c", "resource", "accesses", 400, 50, 0.9),
		ev("user_3_anomalous", "user", "sg_y", "config", "modifies", 450, 1, 1.0),
		ev("vm_z_anomalous", "resource", "db_c", "resource", "network_conn", 500, 500, 0.95),
	}
}
