package assembly

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resextractor/internal/common"
	"resextractor/internal/testutil/fixture"
)

func writeAssembly(t *testing.T, dir string, a *fixture.Assembly) string {
	t.Helper()
	path := filepath.Join(dir, a.Name+".dll")
	require.NoError(t, a.WriteFile(path))
	return path
}

func TestOpenEmbedded(t *testing.T) {
	set := fixture.NewResources().AddString("Greeting", "hello").Bytes()
	logo := fixture.PNG(4, 4, color.NRGBA{R: 0xC0, A: 0xFF})
	path := writeAssembly(t, t.TempDir(), fixture.NewAssembly("Sample").
		WithResource("Sample.Properties.Resources.resources", set).
		WithResource("Sample.logo.png", logo))

	a, err := Open(path, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "Sample", a.Name)
	assert.Equal(t, "1.0.0.0", a.Version)
	assert.Equal(t, "Sample.dll", a.ModuleName)
	assert.Equal(t, "v4.0.30319", a.RuntimeVersion)
	assert.Equal(t, common.MultiArch, a.Arch)
	assert.True(t, a.HasResources())
	assert.Equal(t, []string{"Sample.Properties.Resources.resources", "Sample.logo.png"}, a.ResourceNames())

	data, err := a.OpenResource("Sample.Properties.Resources.resources")
	require.NoError(t, err)
	assert.Equal(t, set, data)

	data, err = a.OpenResource("Sample.logo.png")
	require.NoError(t, err)
	assert.Equal(t, logo, data)

	_, err = a.OpenResource("missing")
	assert.ErrorIs(t, err, ErrNoResource)

	info, err := a.Describe()
	require.NoError(t, err)
	assert.Contains(t, info, "[+] Assembly: Sample, Version=1.0.0.0")
	assert.Contains(t, info, "[*] Manifest resources: 2")
	assert.Contains(t, info, "Sample.logo.png (embedded)")
}

func TestOpenArchitectures(t *testing.T) {
	wide := fixture.NewAssembly("Wide")
	wide.PE64 = true
	wide.Machine = fixture.MachineAMD64

	x86 := fixture.NewAssembly("Pinned")
	x86.CLRFlags = fixture.CLRILOnly | fixture.CLR32BitNeeded

	tests := []struct {
		name string
		asm  *fixture.Assembly
		want common.CPUArch
	}{
		{"AnyCPU", fixture.NewAssembly("Neutral"), common.MultiArch},
		{"32-bit required", x86, common.X86},
		{"PE32+", wide, common.AMD64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Load(tt.asm.Bytes())
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Arch)
			assert.False(t, a.HasResources())
			assert.Empty(t, a.ResourceNames())
		})
	}
}

func TestOpenRejectsNonAssemblies(t *testing.T) {
	dir := t.TempDir()
	native := fixture.NewAssembly("Native")
	native.NoCLR = true

	_, err := Open(writeAssembly(t, dir, native), nil)
	assert.ErrorIs(t, err, ErrNotAssembly)

	empty := filepath.Join(dir, "empty.dll")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = Open(empty, nil)
	assert.ErrorIs(t, err, ErrNotAssembly)

	_, err = Open(filepath.Join(dir, "missing.dll"), nil)
	assert.Error(t, err)
}

func TestOpenLinkedFile(t *testing.T) {
	dir := t.TempDir()
	asm := fixture.NewAssembly("Linked")
	asm.Resources = append(asm.Resources, fixture.Resource{Name: "Linked.data.bin", File: "data.bin"})
	path := writeAssembly(t, dir, asm)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.bin"), []byte("linked payload"), 0o644))

	resolver := NewResolver(nil)
	defer resolver.Close()
	a, err := Open(path, resolver)
	require.NoError(t, err)
	defer a.Close()

	res, ok := a.Resource("Linked.data.bin")
	require.True(t, ok)
	assert.Equal(t, LinkedFile, res.Location)
	assert.Equal(t, "data.bin", res.Target)

	data, err := a.OpenResource("Linked.data.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("linked payload"), data)

	unresolved, err := Open(path, nil)
	require.NoError(t, err)
	defer unresolved.Close()
	_, err = unresolved.OpenResource("Linked.data.bin")
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestOpenLinkedFileStaysInDirectory(t *testing.T) {
	root := t.TempDir()
	secret := filepath.Join(root, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("private"), 0o600))
	dir := filepath.Join(root, "app")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	targets := []string{"../secret.txt", `..\secret.txt`, "nested/../../secret.txt", secret, ".."}
	asm := fixture.NewAssembly("Hostile")
	for i, target := range targets {
		asm.Resources = append(asm.Resources, fixture.Resource{Name: "Hostile.r" + string(rune('0'+i)), File: target})
	}
	path := writeAssembly(t, dir, asm)

	resolver := NewResolver(nil)
	defer resolver.Close()
	a, err := Open(path, resolver)
	require.NoError(t, err)
	defer a.Close()

	for i, target := range targets {
		data, err := a.OpenResource("Hostile.r" + string(rune('0'+i)))
		assert.ErrorIs(t, err, ErrUnresolved, target)
		assert.Nil(t, data, target)
	}
}

func TestOpenLinkedAssembly(t *testing.T) {
	dir := t.TempDir()
	set := fixture.NewResources().AddString("Title", "satellite").Bytes()
	writeAssembly(t, dir, fixture.NewAssembly("Satellite").WithResource("Main.fr.resources", set))

	main := fixture.NewAssembly("Main")
	main.Resources = append(main.Resources, fixture.Resource{Name: "Main.fr.resources", AssemblyRef: "Satellite"})
	main.Resources = append(main.Resources, fixture.Resource{Name: "Main.de.resources", AssemblyRef: "Missing"})
	path := writeAssembly(t, dir, main)

	resolver := NewResolver(nil)
	defer resolver.Close()
	a, err := Open(path, resolver)
	require.NoError(t, err)
	defer a.Close()
	require.Len(t, a.References, 2)

	data, err := a.OpenResource("Main.fr.resources")
	require.NoError(t, err)
	assert.Equal(t, set, data)
	assert.Equal(t, 2, resolver.LoadedCount())

	_, err = a.OpenResource("Main.de.resources")
	assert.ErrorIs(t, err, ErrUnresolved)
}
