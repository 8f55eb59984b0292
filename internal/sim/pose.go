// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sim

import "math"

// Pose is the rig's planar position and heading, integrated from wheel
// angular velocities through the same geometry drive.Drive uses to split
// a twist into wheel omegas.
type Pose struct {
	X, Y, Theta float32
}

// Rig couples a right and left WheelPhysics through track geometry and
// integrates the resulting twist into a Pose.
type Rig struct {
	WheelRadius float32
	TrackWidth  float32

	Right *WheelPhysics
	Left  *WheelPhysics

	pose Pose
}

// Step advances both wheel models by dt and integrates the resulting
// body-frame twist into Pose using a simple forward-Euler update.
func (r *Rig) Step(dt float32, nowUs int64) {
	r.Right.Step(dt, nowUs)
	r.Left.Step(dt, nowUs)

	wR := r.Right.Omega()
	wL := r.Left.Omega()
	v := r.WheelRadius * (wR + wL) / 2
	w := r.WheelRadius * (wR - wL) / r.TrackWidth

	th := float64(r.pose.Theta)
	r.pose.X += v * float32(math.Cos(th)) * dt
	r.pose.Y += v * float32(math.Sin(th)) * dt
	r.pose.Theta += w * dt
}

func (r *Rig) Pose() Pose { return r.pose }
