// ABOUTME: Foveation parameter payload
// ABOUTME: Per-view, per-axis warp parameters consumed by the reprojection pass
package tracking

// FoveationAxis describes the foveated warp along one image axis
type FoveationAxis struct {
	Scale  float32 `json:"scale"`
	A      float32 `json:"a"`
	B      float32 `json:"b"`
	Center float32 `json:"center"`
}

// Foveated reports whether the axis is compressed at all
func (a FoveationAxis) Foveated() bool {
	return a.Scale < 1
}

// FoveationView holds both axes of one eye
type FoveationView struct {
	X FoveationAxis `json:"x"`
	Y FoveationAxis `json:"y"`
}

// Foveation holds the parameters of both eyes
type Foveation struct {
	Views [2]FoveationView `json:"views"`
}

// Foveated reports whether any axis of any view is foveated
func (f Foveation) Foveated() bool {
	for _, v := range f.Views {
		if v.X.Foveated() || v.Y.Foveated() {
			return true
		}
	}
	return false
}

// Unfoveated returns parameters that leave the image unchanged
func Unfoveated() Foveation {
	axis := FoveationAxis{Scale: 1, A: 1}
	view := FoveationView{X: axis, Y: axis}
	return Foveation{Views: [2]FoveationView{view, view}}
}

func mixAxis(before, after FoveationAxis, t float32) FoveationAxis {
	return FoveationAxis{
		Scale:  Mix(before.Scale, after.Scale, t),
		A:      Mix(before.A, after.A, t),
		B:      Mix(before.B, after.B, t),
		Center: Mix(before.Center, after.Center, t),
	}
}

// FoveationInterpolator interpolates every parameter linearly
type FoveationInterpolator struct{}

// Interpolate implements history.Interpolator
func (FoveationInterpolator) Interpolate(before, after Foveation, t float64) Foveation {
	w := float32(t)
	var out Foveation
	for i := range out.Views {
		out.Views[i] = FoveationView{
			X: mixAxis(before.Views[i].X, after.Views[i].X, w),
			Y: mixAxis(before.Views[i].Y, after.Views[i].Y, w),
		}
	}
	return out
}
