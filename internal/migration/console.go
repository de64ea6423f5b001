package migration

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
)

// Op migrate 子命令
type Op string

const (
	OpUp      Op = "up"
	OpDown    Op = "down"
	OpReset   Op = "reset"
	OpGoto    Op = "goto"
	OpForce   Op = "force"
	OpStatus  Op = "status"
	OpVersion Op = "version"
)

// Command 一次 migrate 调用。Version 只对 goto/force 有意义。
type Command struct {
	Op      Op
	Version int
}

// Schema Console 依赖的迁移操作，*Migrator 实现了它
type Schema interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Reset(ctx context.Context) error
	Goto(ctx context.Context, version uint) error
	Force(ctx context.Context, version int) error
	State(ctx context.Context) (State, error)
}

// Console 执行命令并把结果写成人类可读的文本
type Console struct {
	schema Schema
	out    io.Writer
}

// NewConsole 创建 Console
func NewConsole(schema Schema, out io.Writer) *Console {
	return &Console{schema: schema, out: out}
}

// Run 执行 cmd
func (c *Console) Run(ctx context.Context, cmd Command) error {
	switch cmd.Op {
	case OpUp:
		fmt.Fprintln(c.out, "Applying pending migrations...")
		return c.thenVersion(ctx, c.schema.Up(ctx))
	case OpDown:
		fmt.Fprintln(c.out, "Rolling back the last migration...")
		return c.thenVersion(ctx, c.schema.Down(ctx))
	case OpReset:
		fmt.Fprintln(c.out, "Rolling back all migrations...")
		return c.thenVersion(ctx, c.schema.Reset(ctx))
	case OpGoto:
		if cmd.Version < 0 {
			return fmt.Errorf("goto needs a non-negative version, got %d", cmd.Version)
		}
		fmt.Fprintf(c.out, "Migrating to version %d...\n", cmd.Version)
		return c.thenVersion(ctx, c.schema.Goto(ctx, uint(cmd.Version)))
	case OpForce:
		fmt.Fprintf(c.out, "Forcing version to %d...\n", cmd.Version)
		return c.thenVersion(ctx, c.schema.Force(ctx, cmd.Version))
	case OpStatus:
		return c.status(ctx)
	case OpVersion:
		st, err := c.schema.State(ctx)
		if err != nil {
			return err
		}
		c.printVersion(st)
		return nil
	default:
		return fmt.Errorf("unknown migrate operation %q", cmd.Op)
	}
}

func (c *Console) thenVersion(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	st, err := c.schema.State(ctx)
	if err != nil {
		return err
	}
	c.printVersion(st)
	return nil
}

func (c *Console) printVersion(st State) {
	if st.Version == 0 && !st.Dirty {
		fmt.Fprintln(c.out, "No migrations applied yet.")
		return
	}
	if st.Dirty {
		fmt.Fprintf(c.out, "Current version: %d (dirty, fix the schema then run 'migrate force %d')\n", st.Version, st.Version)
		return
	}
	fmt.Fprintf(c.out, "Current version: %d\n", st.Version)
}

func (c *Console) status(ctx context.Context) error {
	st, err := c.schema.State(ctx)
	if err != nil {
		return err
	}
	if len(st.Steps) == 0 {
		fmt.Fprintln(c.out, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	for _, s := range st.Steps {
		status := "pending"
		switch {
		case s.Dirty:
			status = "dirty"
		case s.Applied:
			status = "applied"
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, status)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\n%d applied, %d pending\n", st.Applied(), st.Pending())
	return nil
}
