package mark

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/markguard/internal/cfg"
	"github.com/phobologic/markguard/internal/lang"
	"github.com/phobologic/markguard/internal/model"
	"github.com/phobologic/markguard/internal/parse"
)

var (
	commands = Config{
		Rule:       "aggregate-commands-mark",
		Completion: "mark",
		Taxonomy: Taxonomy{
			Terminal:   []string{"asDone", "asRejected"},
			Middleware: []string{"asReadyForNext", "asRejected"},
		},
		Tables: []string{"commands"},
	}
	when = Config{
		Rule:       "flow-when-mark",
		Completion: "mark",
		Taxonomy:   Taxonomy{Terminal: []string{"asDone"}},
		Tables:     []string{"when"},
	}
)

type diag struct {
	Message string
	Line    int
	Column  int
}

func parseJS(t *testing.T, source string) *parse.File {
	t.Helper()
	l := lang.Languages["javascript"]
	q, err := l.GetDeclQuery()
	require.NoError(t, err)
	f, err := parse.Parse(context.Background(), l.NewParser(), q, []byte(source), "app/server/handlers.js")
	require.NoError(t, err)
	t.Cleanup(f.Close)
	return f
}

func verify(t *testing.T, c Config, source string) []model.Diagnostic {
	t.Helper()
	f := parseJS(t, source)
	v := NewVerifier(c, f)
	cfg.Walk(f.Root(), f.Source, v)
	return v.Diagnostics()
}

func brief(diags []model.Diagnostic) []diag {
	out := make([]diag, len(diags))
	for i, d := range diags {
		out[i] = diag{Message: d.Message, Line: d.Location.Line, Column: d.Location.Column}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Column < out[j].Column
	})
	return out
}

func TestValidHandlers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		config Config
		source string
	}{
		{
			name:   "two command handlers",
			config: commands,
			source: `
        const commands = {
          mount1 (board, command, mark) {
            mark.asDone();
          },
          mount2 (board, command, mark) {
            mark.asRejected();
          }
        };
      `,
		},
		{
			name:   "inline middleware",
			config: commands,
			source: `
        const commands = {
          mount3: [
            (board, command, services, mark) => {
              mark.asRejected();
            },
            (board, command, services, mark) => {
              mark.asReadyForNext();
            },
            (board, command, mark) => {
              mark.asDone();
            }
          ],
        };
      `,
		},
		{
			name:   "middleware by reference",
			config: commands,
			source: `
        const bar = function (board, command, services, mark) {
          mark.asDone();
        };

        const foo = function (board, command, mark) {
          mark.asDone();
        };

        const baz = function (board, command, mark) {
          mark.asReadyForNext();
        };

        const commands = {
          foo,

          mount3: [
            baz,
            bar
          ]
        };
      `,
		},
		{
			name:   "handler never calls mark",
			config: commands,
			source: `
        const bar = function (board, command, services, mark) {};

        const commands = {
          bar
        };
      `,
		},
		{
			name:   "nested when tables",
			config: when,
			source: `
        const when = {
          foo: {
            mounted1 (flow, when, services, mark) {
              mark.asDone();
            }
          },
          bar: {
            mounted2 (flow, when, mark) {
              mark.asDone();
            }
          }
        };
      `,
		},
		{
			name:   "both branches complete",
			config: when,
			source: `
        const when = {
          foo: {
            mounted (flow, when, mark) {
              if (flow.ok) {
                mark.asDone();
              } else {
                log();
                mark.asDone();
              }
            }
          }
        };
      `,
		},
		{
			name:   "early return completes",
			config: when,
			source: `
        const handle = function (flow, when, mark) {
          if (!flow.ok) {
            mark.asDone();
            return;
          }
          work();
          mark.asDone();
        };
      `,
		},
		{
			name:   "throwing path is exempt",
			config: when,
			source: `
        const handle = async function (flow, when, mark) {
          if (!flow.ok) {
            throw new Error('not ok');
          }
          mark.asDone();
        };
      `,
		},
		{
			name:   "try and catch both complete",
			config: when,
			source: `
        const handle = async function (flow, when, mark) {
          try {
            await work();
            mark.asDone();
          } catch (err) {
            mark.asDone();
          }
        };
      `,
		},
		{
			name:   "switch with default",
			config: when,
			source: `
        const handle = function (flow, when, mark) {
          switch (when.type) {
            case 'a':
              mark.asDone();
              break;
            default:
              mark.asDone();
          }
        };
      `,
		},
		{
			name:   "ternary completion",
			config: commands,
			source: `
        const handle = (board, command, mark) => command.ok ? mark.asDone() : mark.asRejected('nope');
      `,
		},
		{
			name:   "function without completion parameter",
			config: when,
			source: `
        const helper = function (flow) {
          mark.asFoo();
          mark.asFoo();
          mark();
        };
      `,
		},
		{
			name:   "top-level calls",
			config: when,
			source: `
        mark.asFoo();
        mark();
      `,
		},
		{
			name:   "destructured completion parameter",
			config: when,
			source: `
        const handle = function (flow, { when }, mark = noop) {
          mark.asDone();
        };
      `,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Empty(t, brief(verify(t, tt.config, tt.source)))
		})
	}
}

func TestWrongMethods(t *testing.T) {
	t.Parallel()
	diags := verify(t, commands, `
        const foo = function (board, command, mark) {
          mark.asFoo();
        };

        const bar = function (board, command, services, mark) {
          mark.asBar();
        };

        const baz = function (board, command, mark) {
          mark.asBaz();
        };

        const fu = function (board, command, mark) {
          mark.asFu();
        };

        const commands = {
          mount1 (board, command, services, mark) {
            mark.asMount1();
          },

          mount2: [
            (board, command, services, mark) => {
              mark.asMount2_1();
            },
            fu,
            function (board, command, mark) {
              mark.asMount2_2();
            },
            foo
          ],
          mount3: (board, command, services, mark) => {
            mark.asMount3();
          },
          bar,
          mount4: [
            (board, command, services, mark) => {
              mark.asMount4_1();
            },
            function (board, command, mark) {
              mark.asMount4_2();
            },
            baz
          ]
        };
      `)

	assert.Equal(t, []diag{
		{"Unexpected method name 'asFoo', expected 'asDone or asRejected'.", 3, 11},
		{"Unexpected method name 'asBar', expected 'asDone or asRejected'.", 7, 11},
		{"Unexpected method name 'asBaz', expected 'asDone or asRejected'.", 11, 11},
		{"Unexpected method name 'asFu', expected 'asReadyForNext or asRejected'.", 15, 11},
		{"Unexpected method name 'asMount1', expected 'asDone or asRejected'.", 20, 13},
		{"Unexpected method name 'asMount2_1', expected 'asReadyForNext or asRejected'.", 25, 15},
		{"Unexpected method name 'asMount2_2', expected 'asReadyForNext or asRejected'.", 29, 15},
		{"Unexpected method name 'asMount3', expected 'asDone or asRejected'.", 34, 13},
		{"Unexpected method name 'asMount4_1', expected 'asReadyForNext or asRejected'.", 39, 15},
		{"Unexpected method name 'asMount4_2', expected 'asReadyForNext or asRejected'.", 42, 15},
	}, brief(diags))

	for _, d := range diags {
		assert.Equal(t, model.WrongMethod, d.Kind)
		assert.Equal(t, "aggregate-commands-mark", d.Rule)
		assert.Equal(t, model.Error, d.Severity)
	}
}

func TestWrongMethodBeforeThrow(t *testing.T) {
	t.Parallel()
	diags := verify(t, when, `
        const handle = function (flow, when, mark) {
          mark.asFoo();
          throw new Error('x');
        };
      `)

	assert.Equal(t, []diag{
		{"Unexpected method name 'asFoo', expected 'asDone'.", 3, 11},
	}, brief(diags))
}

func TestDuplicateCalls(t *testing.T) {
	t.Parallel()
	diags := verify(t, commands, `
        const foo = function (board, command, mark) {
          mark.asDone();
          mark.asDone();
        };

        const bar = function (board, command, services, mark) {
          mark.asDone();
          mark.asDone();
        };

        const fu = function (board, command, mark) {
          mark.asReadyForNext();
          mark.asReadyForNext();
        };

        const commands = {
          mount1 (board, command, services, mark) {
            mark.asDone();
            mark.asDone();
          },

          mount2: [
            (board, command, services, mark) => {
              mark.asReadyForNext();
              mark.asReadyForNext();
            },
            fu,
            function (board, command, mark) {
              mark.asRejected();
              mark.asRejected();
            },
            foo
          ],
          mount3: (board, command, services, mark) => {
            mark.asDone();
            mark.asDone();
          },
          bar
        };
      `)

	assert.Equal(t, []diag{
		{"Unexpected multiple call to 'asDone'.", 2, 21},
		{"Unexpected multiple call to 'asDone'.", 7, 21},
		{"Unexpected multiple call to 'asReadyForNext'.", 12, 20},
		{"Unexpected multiple call to 'asDone'.", 18, 18},
		{"Unexpected multiple call to 'asReadyForNext'.", 24, 13},
		{"Unexpected multiple call to 'asRejected'.", 29, 13},
		{"Unexpected multiple call to 'asDone'.", 35, 19},
	}, brief(diags))
}

func TestBareCalls(t *testing.T) {
	t.Parallel()
	diags := verify(t, commands, `
        const commands = {
          mount1 (board, command, services, mark) {
            mark();
          },
          mount2: [
            (board, command, mark) => {
              mark();
            },
            (board, command, mark) => {
              mark.asDone();
            }
          ]
        };
      `)

	assert.Equal(t, []diag{
		{"Unexpected call to 'mark', expected call to its methods 'asDone or asRejected'.", 4, 13},
		{"Unexpected call to 'mark', expected call to its methods 'asReadyForNext or asRejected'.", 8, 15},
	}, brief(diags))
	for _, d := range diags {
		assert.Equal(t, model.BareCall, d.Kind)
	}
}

func TestBareCallReportedEvenWhenPathCompletes(t *testing.T) {
	t.Parallel()
	diags := verify(t, when, `
        const handle = function (flow, when, mark) {
          if (flow.retry) {
            mark();
          }
          mark.asDone();
        };
      `)

	assert.Equal(t, []diag{
		{"Unexpected call to 'mark', expected call to its methods 'asDone'.", 4, 13},
	}, brief(diags))
}

func TestWrongMethodInBranch(t *testing.T) {
	t.Parallel()
	diags := verify(t, when, `
        const when = {
          foo: {
            mounted1 (flow, when, services, mark) {
              if (true) {
                mark.asMounted1();
                return;
              }
              mark.asDone();
            }
          },
          baz: {
            fuu (flow, when, mark) {
              if (true) {
                mark.asMounted2_1();
                return;
              }
              mark.asDone();
            }
          }
        };
      `)

	assert.Equal(t, []diag{
		{"Unexpected method name 'asMounted1', expected 'asDone'.", 6, 17},
		{"Unexpected method name 'asMounted2_1', expected 'asDone'.", 15, 17},
	}, brief(diags))
}

func TestMissingCallOnOnePath(t *testing.T) {
	t.Parallel()
	diags := verify(t, when, `
        const when = {
          foo: {
            mounted (flow, when, mark) {
              if (flow.ok) {
                mark.asDone();
                return;
              }
              notify();
            }
          }
        };
      `)

	require.Len(t, diags, 1)
	assert.Equal(t, model.MissingCall, diags[0].Kind)
	assert.Equal(t, diag{"Missing call to a method of 'mark' on this code path, expected 'asDone'.", 4, 21}, brief(diags)[0])
}

func TestMissingCallAfterLoop(t *testing.T) {
	t.Parallel()
	diags := verify(t, when, `
        const handle = function (flow, when, mark) {
          for (const item of when.items) {
            if (item.last) {
              mark.asDone();
              return;
            }
          }
        };
      `)

	assert.Equal(t, []diag{
		{"Missing call to a method of 'mark' on this code path, expected 'asDone'.", 2, 24},
	}, brief(diags))
}

func TestCallInsideLoopIsNotDefinite(t *testing.T) {
	t.Parallel()
	diags := verify(t, when, `
        const handle = function (flow, when, mark) {
          while (flow.pending()) {
            mark.asDone();
          }
        };
      `)

	assert.Equal(t, []diag{
		{"Missing call to a method of 'mark' on this code path, expected 'asDone'.", 2, 24},
	}, brief(diags))
}

func TestMissingCallAfterCaughtError(t *testing.T) {
	t.Parallel()
	diags := verify(t, when, `
        const handle = async function (flow, when, mark) {
          try {
            await work();
            mark.asDone();
          } catch (err) {
            log(err);
          }
        };
      `)

	require.Len(t, diags, 1)
	assert.Equal(t, model.MissingCall, diags[0].Kind)
}

func TestFinallyRunsOnEarlyExits(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		source string
	}{
		{
			name: "return in try",
			source: `
        const handle = function (flow, when, mark) {
          try {
            return work();
          } finally {
            mark.asDone();
          }
        };
      `,
		},
		{
			name: "uncaught throw in try",
			source: `
        const handle = function (flow, when, mark) {
          try {
            if (!flow.ok) {
              throw new Error('not ok');
            }
            work();
          } finally {
            mark.asDone();
          }
        };
      `,
		},
		{
			name: "return in catch",
			source: `
        const handle = function (flow, when, mark) {
          try {
            work();
          } catch (err) {
            return;
          } finally {
            mark.asDone();
          }
        };
      `,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Empty(t, brief(verify(t, when, tt.source)))
		})
	}
}

func TestFinallyAfterCompletedReturn(t *testing.T) {
	t.Parallel()
	diags := verify(t, when, `
        const handle = function (flow, when, mark) {
          try {
            mark.asDone();
            return;
          } finally {
            mark.asDone();
          }
        };
      `)

	assert.Equal(t, []diag{
		{"Unexpected multiple call to 'asDone'.", 2, 24},
	}, brief(diags))
}

func TestBreakOutOfLabeledBlock(t *testing.T) {
	t.Parallel()
	diags := verify(t, when, `
        const handle = function (flow, when, mark) {
          out: {
            while (flow.next()) {
              if (flow.stop) break out;
            }
            mark.asDone();
          }
        };
      `)

	assert.Equal(t, []diag{
		{"Missing call to a method of 'mark' on this code path, expected 'asDone'.", 2, 24},
	}, brief(diags))
}

func TestWrongMethodExplainsMergedPath(t *testing.T) {
	t.Parallel()
	diags := verify(t, when, `
        const handle = function (flow, when, mark) {
          if (flow.ok) {
            mark.asFinished();
          } else {
            mark.asDone();
          }
        };
      `)

	assert.Equal(t, []diag{
		{"Unexpected method name 'asFinished', expected 'asDone'.", 4, 13},
	}, brief(diags))
}

func TestDuplicateAcrossSegments(t *testing.T) {
	t.Parallel()
	diags := verify(t, when, `
        const handle = function (flow, when, mark) {
          mark.asDone();
          if (flow.again) {
            mark.asDone();
          }
        };

        const other = function (flow, when, mark) {
          mark.asDone();
        };
      `)

	require.Len(t, diags, 1)
	assert.Equal(t, model.DuplicateCall, diags[0].Kind)
	assert.Equal(t, diag{"Unexpected multiple call to 'asDone'.", 2, 24}, brief(diags)[0])
}

func TestDuplicateDoesNotHideMissingSibling(t *testing.T) {
	t.Parallel()
	diags := verify(t, when, `
        const handle = function (flow, when, mark) {
          if (flow.ok) {
            mark.asDone();
            mark.asDone();
            return;
          }
          notify();
        };
      `)

	kinds := make([]model.Kind, len(diags))
	for i, d := range diags {
		kinds[i] = d.Kind
	}
	assert.ElementsMatch(t, []model.Kind{model.DuplicateCall, model.MissingCall}, kinds)
}

func TestPositionSensitiveSets(t *testing.T) {
	t.Parallel()
	valid := `
        const commands = {
          mount: [
            (board, command, mark) => { mark.asReadyForNext(); },
            (board, command, mark) => { mark.asReadyForNext(); },
            (board, command, mark) => { mark.asDone(); }
          ]
        };
      `
	assert.Empty(t, verify(t, commands, valid))

	invalid := `
        const commands = {
          mount: [
            (board, command, mark) => { mark.asDone(); },
            (board, command, mark) => { mark.asReadyForNext(); },
            (board, command, mark) => { mark.asDone(); }
          ]
        };
      `
	assert.Equal(t, []diag{
		{"Unexpected method name 'asDone', expected 'asReadyForNext or asRejected'.", 4, 41},
	}, brief(verify(t, commands, invalid)))
}

func TestLastStepMayNotPassOn(t *testing.T) {
	t.Parallel()
	diags := verify(t, commands, `
        const commands = {
          mount: [
            (board, command, mark) => { mark.asReadyForNext(); },
            (board, command, mark) => { mark.asReadyForNext(); }
          ]
        };
      `)

	assert.Equal(t, []diag{
		{"Unexpected method name 'asReadyForNext', expected 'asDone or asRejected'.", 5, 41},
	}, brief(diags))
}

func TestMountScenario(t *testing.T) {
	t.Parallel()
	source := func(call string) string {
		return `
const commands = {
  mount1 (a, b, mark) { mark.` + call + `(); },
  mount2 (a, b, mark) { mark.asRejected(); }
};
`
	}

	assert.Empty(t, verify(t, commands, source("asDone")))
	assert.Equal(t, []diag{
		{"Unexpected method name 'asFoo', expected 'asDone or asRejected'.", 3, 25},
	}, brief(verify(t, commands, source("asFoo"))))
}

func TestNestedHandlersAreIndependent(t *testing.T) {
	t.Parallel()
	diags := verify(t, when, `
        const handle = function (flow, when, mark) {
          const inner = function (x, mark) {
            mark.asFoo();
          };
          mark.asDone();
        };
      `)

	assert.Equal(t, []diag{
		{"Unexpected method name 'asFoo', expected 'asDone'.", 4, 13},
	}, brief(diags))
}

func TestCallbacksDoNotCountForEnclosingHandler(t *testing.T) {
	t.Parallel()
	diags := verify(t, when, `
        const handle = function (flow, when, mark) {
          if (flow.ok) {
            mark.asDone();
            return;
          }
          later(() => {
            mark.asDone();
          });
        };
      `)

	assert.Equal(t, []diag{
		{"Missing call to a method of 'mark' on this code path, expected 'asDone'.", 2, 24},
	}, brief(diags))
}

func TestCustomCompletionName(t *testing.T) {
	t.Parallel()
	c := when
	c.Completion = "done"
	diags := verify(t, c, `
        const handle = function (flow, when, done) {
          done.asDone();
          mark.asFoo();
        };

        const other = function (flow, when, done) {
          done();
        };
      `)

	assert.Equal(t, []diag{
		{"Unexpected call to 'done', expected call to its methods 'asDone'.", 8, 11},
	}, brief(diags))
}

func TestSeverityAndFile(t *testing.T) {
	t.Parallel()
	c := when
	c.Severity = model.Warning
	diags := verify(t, c, `
        const handle = function (flow, when, mark) { mark.asFoo(); };
      `)

	require.Len(t, diags, 1)
	assert.Equal(t, model.Warning, diags[0].Severity)
	assert.Equal(t, "app/server/handlers.js", diags[0].File)
	assert.Equal(t, "flow-when-mark", diags[0].Rule)
}
