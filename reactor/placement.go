package reactor

// Placement locates an actor inside keyframe groups.
type Placement struct {
	// Num is the actor number used by the pipeline.
	Num int
	// Group is the keyframe group.
	Group int
	// Place is the position inside the group.
	Place int
}

// Place maps the accept-order index of a connection onto a keyframe group so
// that the groups fill in rotation (goose order) rather than one at a time.
// With kfDist <= 0 every actor keeps its index.
//
// numParts actors are split into groups of kfDist; a trailing short group
// holds numParts % kfDist actors.
func Place(index, kfDist, numParts int) Placement {
	if kfDist <= 0 {
		return Placement{Num: index, Group: 0, Place: index}
	}
	rem := numParts % kfDist
	numGroups := numParts / kfDist
	if rem != 0 {
		numGroups++
	}

	var group, place int
	if rem == 0 || index < numGroups*rem {
		group = index % numGroups
		place = index / numGroups
	} else {
		eff := index - rem*numGroups
		effGroups := numGroups - 1
		group = eff % effGroups
		place = rem + eff/effGroups
	}
	return Placement{Num: group*kfDist + place, Group: group, Place: place}
}
