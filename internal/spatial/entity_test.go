package spatial

import (
	"testing"

	"github.com/amplitude-audio/amplitude-go/internal/geom"
)

func TestRefreshEnvironmentFactorsWritesBackPerEnvironment(t *testing.T) {
	entities := NewEntityTable(2)
	environments := NewEnvironmentTable(2)

	id, _ := entities.Add(Entity{Position: geom.Vec3{}})
	inEnv, _ := environments.Add(Environment{Zone: Zone{Inner: Sphere{Radius: 1}, Outer: Sphere{Radius: 2}}})
	outEnv, _ := environments.Add(Environment{Zone: Zone{Inner: Sphere{Center: geom.Vec3{X: 100}, Radius: 1}, Outer: Sphere{Center: geom.Vec3{X: 100}, Radius: 2}}})

	if !RefreshEnvironmentFactors(entities, environments, id) {
		t.Fatal("expected refresh to succeed")
	}
	e, _ := entities.Get(id)
	if e.EnvironmentFactor(inEnv) != 1 {
		t.Fatalf("expected factor 1 inside the near environment, got %v", e.EnvironmentFactor(inEnv))
	}
	if e.EnvironmentFactor(outEnv) != 0 {
		t.Fatalf("expected factor 0 for the far environment, got %v", e.EnvironmentFactor(outEnv))
	}
}
