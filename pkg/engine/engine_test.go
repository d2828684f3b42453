package engine_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobbiw/eightball/pkg/engine"
	"github.com/bobbiw/eightball/pkg/interpret"
	"github.com/bobbiw/eightball/pkg/program"
)

// run builds a program.Program from src (one statement block per line,
// blank lines ignored), runs it through an interpret.Backend, and returns
// whatever it wrote to stdout.
func run(t *testing.T, src string) string {
	t.Helper()
	prog := program.New()
	n := 1
	for _, line := range strings.Split(strings.TrimSpace(src), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		require.NoError(t, prog.Set(n, line))
		n++
	}
	var out bytes.Buffer
	backend := interpret.New(interpret.WithOutput(&out))
	err := engine.NewEngine(backend).Run(prog)
	require.NoError(t, err)
	return out.String()
}

func TestDeclAndPrint(t *testing.T) {
	out := run(t, `
		word x = 5
		pr.dec x
		pr.nl
		end
	`)
	assert.Equal(t, "5\n", out)
}

func TestArithmetic(t *testing.T) {
	out := run(t, `
		word x = 2 + 3 * 4
		pr.dec x
		end
	`)
	assert.Equal(t, "14", out)
}

func TestArrayInitializerReplication(t *testing.T) {
	out := run(t, `
		word arr[3] = 7
		pr.dec arr[0]
		pr.dec arr[1]
		pr.dec arr[2]
		end
	`)
	assert.Equal(t, "777", out)
}

func TestIfElse(t *testing.T) {
	out := run(t, `
		word x = 3
		if x > 5
		pr.dec 1
		else
		pr.dec 0
		endif
		end
	`)
	assert.Equal(t, "0", out)

	out = run(t, `
		word x = 9
		if x > 5
		pr.dec 1
		else
		pr.dec 0
		endif
		end
	`)
	assert.Equal(t, "1", out)
}

func TestNestedIf(t *testing.T) {
	out := run(t, `
		word x = 5
		word y = 9
		if x > 0
		if y > 5
		pr.dec 42
		endif
		endif
		end
	`)
	assert.Equal(t, "42", out)
}

func TestWhileLoop(t *testing.T) {
	out := run(t, `
		word i = 0
		while i < 3
		pr.dec i
		i = i + 1
		endwhile
		end
	`)
	assert.Equal(t, "012", out)
}

func TestForLoopRunsAtLeastOnce(t *testing.T) {
	out := run(t, `
		word i
		for i = 5 : 1
		pr.dec i
		endfor
		end
	`)
	assert.Equal(t, "5", out)
}

func TestForLoop(t *testing.T) {
	out := run(t, `
		word i
		for i = 1 : 3
		pr.dec i
		endfor
		end
	`)
	assert.Equal(t, "123", out)
}

func TestForLoopSingleLine(t *testing.T) {
	out := run(t, `
		word i
		for i = 1 : 3 ; pr.dec i ; endfor
		end
	`)
	assert.Equal(t, "123", out)
}

func TestSubCallAndRecursion(t *testing.T) {
	out := run(t, `
		sub fact(word n)
		if n <= 1
		return 1
		else
		return n * fact(n-1)
		endif
		endsub
		word r = fact(5)
		pr.dec r
		end
	`)
	assert.Equal(t, "120", out)
}

func TestCallAsStatementDiscardsResult(t *testing.T) {
	out := run(t, `
		sub noop(word n)
		return n
		endsub
		call noop(5)
		pr.dec 1
		end
	`)
	assert.Equal(t, "1", out)
}

func TestArrayPassedByReference(t *testing.T) {
	out := run(t, `
		sub bump(word a[])
		a[0] = a[0] + 1
		endsub
		word arr[1] = 10
		call bump(arr)
		pr.dec arr[0]
		end
	`)
	assert.Equal(t, "11", out)
}

func TestPeekPoke(t *testing.T) {
	out := run(t, `
		word x = 99
		word p = &x
		*p = 41
		pr.dec x
		end
	`)
	assert.Equal(t, "41", out)
}

func TestDivByZero(t *testing.T) {
	prog := program.New()
	require.NoError(t, prog.Set(1, "word x = 1 / 0"))
	require.NoError(t, prog.Set(2, "end"))
	backend := interpret.New()
	err := engine.NewEngine(backend).Run(prog)
	assert.Error(t, err)
}

func TestUndeclaredVariableErrors(t *testing.T) {
	prog := program.New()
	require.NoError(t, prog.Set(1, "x = 1"))
	backend := interpret.New()
	err := engine.NewEngine(backend).Run(prog)
	assert.Error(t, err)
}

func TestClearResetsVariables(t *testing.T) {
	prog := program.New()
	require.NoError(t, prog.Set(1, "word x = 1"))
	require.NoError(t, prog.Set(2, "clear"))
	require.NoError(t, prog.Set(3, "word x = 2"))
	require.NoError(t, prog.Set(4, "pr.dec x"))
	require.NoError(t, prog.Set(5, "end"))
	var out bytes.Buffer
	backend := interpret.New(interpret.WithOutput(&out))
	err := engine.NewEngine(backend).Run(prog)
	require.NoError(t, err)
	assert.Equal(t, "2", out.String())
}

func TestKeyboardReadChar(t *testing.T) {
	prog := program.New()
	require.NoError(t, prog.Set(1, "byte c"))
	require.NoError(t, prog.Set(2, "kbd.ch &c"))
	require.NoError(t, prog.Set(3, "pr.ch c"))
	require.NoError(t, prog.Set(4, "end"))
	var out bytes.Buffer
	backend := interpret.New(interpret.WithOutput(&out), interpret.WithInput(strings.NewReader("A")))
	err := engine.NewEngine(backend).Run(prog)
	require.NoError(t, err)
	assert.Equal(t, "A", out.String())
}
