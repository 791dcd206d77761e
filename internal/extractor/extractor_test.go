package extractor

import (
	"testing"

	"github.com/dshills/codesearch/pkg/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findEntity(t *testing.T, entities []entity.CodeEntity, name string) entity.CodeEntity {
	t.Helper()
	for _, e := range entities {
		if e.Name == name {
			return e
		}
	}
	t.Fatalf("entity %q not found", name)
	return entity.CodeEntity{}
}

func TestGoExtractor_FunctionsAndTypes(t *testing.T) {
	content := `package testpkg

// User represents a user in the system.
type User struct {
	ID   int
	Name string
}

// Storer persists users.
type Storer interface {
	Save(u *User) error
}

// GetName returns the user's name.
func (u *User) GetName() string {
	return u.Name
}

// NewUser creates a new user.
func NewUser(id int, name string) *User {
	return &User{ID: id, Name: name}
}
`

	x := NewGoExtractor()
	entities, err := x.Extract("user.go", []byte(content))
	require.NoError(t, err)
	require.Len(t, entities, 4)

	user := findEntity(t, entities, "User")
	assert.Equal(t, entity.KindStruct, user.Kind)
	assert.Equal(t, "User represents a user in the system.", user.DocComment)
	assert.Contains(t, user.Signature, "struct")
	assert.Contains(t, user.Source, "ID   int")

	storer := findEntity(t, entities, "Storer")
	assert.Equal(t, entity.KindInterface, storer.Kind)

	getName := findEntity(t, entities, "GetName")
	assert.Equal(t, entity.KindMethod, getName.Kind)
	assert.Equal(t, "User", getName.Parent)
	assert.Equal(t, "func (*User) GetName() string", getName.Signature)
	assert.Equal(t, "string", getName.ReturnType)

	newUser := findEntity(t, entities, "NewUser")
	assert.Equal(t, entity.KindFunction, newUser.Kind)
	assert.Equal(t, []string{"id", "name"}, newUser.Parameters)
	assert.Equal(t, "func NewUser(id int, name string) *User", newUser.Signature)
	assert.Greater(t, newUser.EndLine, newUser.StartLine)
}

func TestGoExtractor_PartialASTOnSyntaxError(t *testing.T) {
	content := `package broken

func Good() int { return 1 }

func Bad( {
`

	x := NewGoExtractor()
	entities, err := x.Extract("broken.go", []byte(content))
	// A partial AST still yields the valid declarations.
	require.NoError(t, err)
	found := false
	for _, e := range entities {
		if e.Name == "Good" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPythonExtractor_ClassesAndMethods(t *testing.T) {
	content := `"""Module docstring."""

def top_level(a, b=1) -> int:
    """Add two numbers."""
    return a + b

class Greeter(Base):
    """Greets people."""

    def greet(self, name: str) -> str:
        """Say hello."""
        return "hi " + name

def after_class():
    pass
`

	x := NewPythonExtractor()
	entities, err := x.Extract("greeter.py", []byte(content))
	require.NoError(t, err)

	top := findEntity(t, entities, "top_level")
	assert.Equal(t, entity.KindFunction, top.Kind)
	assert.Equal(t, []string{"a", "b"}, top.Parameters)
	assert.Equal(t, "int", top.ReturnType)
	assert.Equal(t, "Add two numbers.", top.DocComment)
	assert.Empty(t, top.Parent)

	greeter := findEntity(t, entities, "Greeter")
	assert.Equal(t, entity.KindClass, greeter.Kind)
	assert.Equal(t, "class Greeter(Base)", greeter.Signature)
	assert.Equal(t, []string{"Base"}, greeter.Parameters)
	assert.Equal(t, "Greets people.", greeter.DocComment)

	greet := findEntity(t, entities, "greet")
	assert.Equal(t, entity.KindMethod, greet.Kind)
	assert.Equal(t, "Greeter", greet.Parent)
	assert.Equal(t, "str", greet.ReturnType)

	after := findEntity(t, entities, "after_class")
	assert.Equal(t, entity.KindFunction, after.Kind)
	assert.Empty(t, after.Parent)
}

func TestPythonExtractor_BlockExtent(t *testing.T) {
	content := `def long_one():
    a = 1

    b = 2
    return a + b

def next_one():
    pass
`

	x := NewPythonExtractor()
	entities, err := x.Extract("blocks.py", []byte(content))
	require.NoError(t, err)

	long := findEntity(t, entities, "long_one")
	assert.Equal(t, 1, long.StartLine)
	assert.Equal(t, 5, long.EndLine)
	assert.Contains(t, long.Source, "return a + b")
	assert.NotContains(t, long.Source, "next_one")
}

func TestJavaScriptExtractor_Declarations(t *testing.T) {
	content := `/**
 * Fetches a user by id.
 */
export async function fetchUser(id) {
  return api.get(id);
}

const double = (x) => {
  return x * 2;
};

export class UserService extends BaseService {
  constructor(api) {
    this.api = api;
  }

  async save(user) {
    return this.api.post(user);
  }
}
`

	x := NewJavaScriptExtractor()
	entities, err := x.Extract("users.js", []byte(content))
	require.NoError(t, err)

	fetch := findEntity(t, entities, "fetchUser")
	assert.Equal(t, entity.KindFunction, fetch.Kind)
	assert.Equal(t, "Fetches a user by id.", fetch.DocComment)
	assert.Equal(t, []string{"id"}, fetch.Parameters)

	double := findEntity(t, entities, "double")
	assert.Equal(t, entity.KindFunction, double.Kind)
	assert.Equal(t, "const double = (x) =>", double.Signature)

	svc := findEntity(t, entities, "UserService")
	assert.Equal(t, entity.KindClass, svc.Kind)
	assert.Equal(t, "class UserService extends BaseService", svc.Signature)

	ctor := findEntity(t, entities, "constructor")
	assert.Equal(t, entity.KindMethod, ctor.Kind)
	assert.Equal(t, "UserService", ctor.Parent)

	save := findEntity(t, entities, "save")
	assert.Equal(t, entity.KindMethod, save.Kind)
	assert.Equal(t, "UserService", save.Parent)
}

func TestFallback_Rust(t *testing.T) {
	content := `pub struct Point {
    x: f64,
}

pub enum Shape {
    Circle,
}

pub trait Area {
    fn area(&self) -> f64;
}

pub async fn compute(p: Point) -> f64 {
    0.0
}
`

	f := NewFallback()
	entities, err := f.ExtractLang("geometry.rs", []byte(content), entity.LangRust)
	require.NoError(t, err)

	assert.Equal(t, entity.KindStruct, findEntity(t, entities, "Point").Kind)
	assert.Equal(t, entity.KindEnum, findEntity(t, entities, "Shape").Kind)
	assert.Equal(t, entity.KindTrait, findEntity(t, entities, "Area").Kind)

	compute := findEntity(t, entities, "compute")
	assert.Equal(t, entity.KindFunction, compute.Kind)
	assert.Equal(t, entity.LangRust, compute.Language)
}

func TestRegistry_ExtractFile(t *testing.T) {
	r := NewRegistry()

	t.Run("unknown extension", func(t *testing.T) {
		_, err := r.ExtractFile("notes.txt", []byte("hello"))
		assert.ErrorIs(t, err, ErrNoEntities)
	})

	t.Run("empty file yields no entities", func(t *testing.T) {
		_, err := r.ExtractFile("empty.py", []byte(""))
		assert.ErrorIs(t, err, ErrNoEntities)
	})

	t.Run("typescript keeps its language", func(t *testing.T) {
		entities, err := r.ExtractFile("svc.ts", []byte("export function ping(host) {\n  return host;\n}\n"))
		require.NoError(t, err)
		require.Len(t, entities, 1)
		assert.Equal(t, entity.LangTypeScript, entities[0].Language)
	})

	t.Run("rust goes through fallback", func(t *testing.T) {
		entities, err := r.ExtractFile("lib.rs", []byte("pub fn run() {}\n"))
		require.NoError(t, err)
		require.Len(t, entities, 1)
		assert.Equal(t, "run", entities[0].Name)
	})
}

func TestLanguageForFile(t *testing.T) {
	tests := []struct {
		path string
		want entity.Language
	}{
		{"main.go", entity.LangGo},
		{"app/Main.PY", entity.LangPython},
		{"src/index.tsx", entity.LangTypeScript},
		{"lib.rs", entity.LangRust},
		{"README.md", entity.LangUnknown},
		{"Makefile", entity.LangUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LanguageForFile(tt.path), tt.path)
	}
}
