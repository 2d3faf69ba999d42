package domain

// Transform places the foreground subject on the composition surface:
// offset from the surface origin, uniform scale, rotation in degrees.
// Invariant: Scale > 0.
type Transform struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Scale    float64 `json:"scale"`
	Rotation float64 `json:"rotation"`
}

// IdentityTransform is the transform of a freshly uploaded source.
func IdentityTransform() Transform {
	return Transform{Scale: 1}
}

// TransformPatch is a partial transform update. Nil fields are left alone;
// set fields overwrite shallowly.
type TransformPatch struct {
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Scale    *float64 `json:"scale,omitempty"`
	Rotation *float64 `json:"rotation,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p TransformPatch) IsEmpty() bool {
	return p.X == nil && p.Y == nil && p.Scale == nil && p.Rotation == nil
}

// Merge overlays o on top of p, field by field.
func (p TransformPatch) Merge(o TransformPatch) TransformPatch {
	if o.X != nil {
		p.X = o.X
	}
	if o.Y != nil {
		p.Y = o.Y
	}
	if o.Scale != nil {
		p.Scale = o.Scale
	}
	if o.Rotation != nil {
		p.Rotation = o.Rotation
	}
	return p
}

// Apply merges the patch into the transform.
func (t Transform) Apply(p TransformPatch) Transform {
	if p.X != nil {
		t.X = *p.X
	}
	if p.Y != nil {
		t.Y = *p.Y
	}
	if p.Scale != nil {
		t.Scale = *p.Scale
	}
	if p.Rotation != nil {
		t.Rotation = *p.Rotation
	}
	return t
}
