package job_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ostrea/backlog/codec"
	"github.com/ostrea/backlog/job"
	"github.com/ostrea/backlog/retry"
)

type mailer struct {
	sent []string
}

type sendArgs struct {
	To string `json:"to"`
}

// mapFactory serves fixed instances by target name.
type mapFactory map[string]any

func (f mapFactory) Instance(target string) (any, error) {
	inst, ok := f[target]
	if !ok {
		return nil, fmt.Errorf("unknown target %q", target)
	}
	return inst, nil
}

func encodeDescriptor(t *testing.T, c codec.Codec, d job.Descriptor) []byte {
	t.Helper()
	data, err := job.EncodeDescriptor(c, d)
	if err != nil {
		t.Fatalf("EncodeDescriptor error: %v", err)
	}
	return data
}

func TestRegisterFunc_ResolveAndCall(t *testing.T) {
	t.Parallel()

	r := job.NewRegistry(nil)
	var got sendArgs
	job.RegisterFunc(r, "notify", func(_ context.Context, a sendArgs) error {
		got = a
		return nil
	})

	c := r.Codec()
	args, err := c.Encode(sendArgs{To: "ops@example.com"})
	if err != nil {
		t.Fatalf("encode args: %v", err)
	}
	data := encodeDescriptor(t, c, job.Descriptor{Operation: "notify", Args: args})

	inv, err := r.Resolve(data)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if inv.Policy() != nil {
		t.Error("free registration without options should have nil policy override")
	}

	recv, err := inv.Bind()
	if err != nil {
		t.Fatalf("Bind error: %v", err)
	}
	if recv != nil {
		t.Errorf("free operation bound to %v, want nil", recv)
	}

	if err := inv.Call(context.Background(), recv); err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if got.To != "ops@example.com" {
		t.Errorf("handler saw args %+v", got)
	}
}

func TestRegisterMethod_BindsInstance(t *testing.T) {
	t.Parallel()

	r := job.NewRegistry(nil)
	m := &mailer{}
	r.SetFactory(mapFactory{"mailer": m})

	job.RegisterMethod(r, "mailer", "send", func(_ context.Context, recv *mailer, a sendArgs) error {
		recv.sent = append(recv.sent, a.To)
		return nil
	})

	c := r.Codec()
	args, _ := c.Encode(sendArgs{To: "a@b.c"})
	data := encodeDescriptor(t, c, job.Descriptor{Target: "mailer", Operation: "send", Args: args})

	inv, err := r.Resolve(data)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	recv, err := inv.Bind()
	if err != nil {
		t.Fatalf("Bind error: %v", err)
	}
	if err := inv.Call(context.Background(), recv); err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if len(m.sent) != 1 || m.sent[0] != "a@b.c" {
		t.Errorf("mailer.sent = %v", m.sent)
	}
}

func TestResolve_Failures(t *testing.T) {
	t.Parallel()

	r := job.NewRegistry(nil)
	job.RegisterFunc(r, "known", func(context.Context, struct{}) error { return nil })

	tests := []struct {
		name string
		data []byte
	}{
		{"corrupt bytes", []byte(`{{{`)},
		{"missing operation", []byte(`{"target":"x"}`)},
		{"unknown operation", []byte(`{"operation":"unknown"}`)},
		{"unknown target", []byte(`{"target":"ghost","operation":"known"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Resolve(tt.data); err == nil {
				t.Error("Resolve accepted an unresolvable descriptor")
			}
		})
	}
}

func TestBind_FactoryErrors(t *testing.T) {
	t.Parallel()

	newBound := func(r *job.Registry) []byte {
		job.RegisterMethod(r, "mailer", "send", func(context.Context, *mailer, sendArgs) error { return nil })
		return encodeDescriptor(t, r.Codec(), job.Descriptor{Target: "mailer", Operation: "send"})
	}

	t.Run("no factory configured", func(t *testing.T) {
		r := job.NewRegistry(nil)
		data := newBound(r)
		inv, err := r.Resolve(data)
		if err != nil {
			t.Fatalf("Resolve error: %v", err)
		}
		if _, err := inv.Bind(); err == nil {
			t.Error("Bind succeeded without a factory")
		}
	})

	t.Run("factory rejects target", func(t *testing.T) {
		r := job.NewRegistry(nil)
		r.SetFactory(mapFactory{})
		data := newBound(r)
		inv, err := r.Resolve(data)
		if err != nil {
			t.Fatalf("Resolve error: %v", err)
		}
		if _, err := inv.Bind(); err == nil {
			t.Error("Bind succeeded with a rejecting factory")
		}
	})
}

func TestCall_HandlerErrorIsClassified(t *testing.T) {
	t.Parallel()

	boom := errors.New("smtp down")
	r := job.NewRegistry(nil)
	job.RegisterFunc(r, "flaky", func(context.Context, struct{}) error { return boom })

	data := encodeDescriptor(t, r.Codec(), job.Descriptor{Operation: "flaky"})
	inv, err := r.Resolve(data)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	callErr := inv.Call(context.Background(), nil)
	if !errors.Is(callErr, boom) {
		t.Errorf("Call error = %v, want wrapped %v", callErr, boom)
	}
}

func TestCall_BadArgsFailTheCall(t *testing.T) {
	t.Parallel()

	r := job.NewRegistry(nil)
	job.RegisterFunc(r, "typed", func(context.Context, sendArgs) error { return nil })

	data := encodeDescriptor(t, r.Codec(), job.Descriptor{Operation: "typed", Args: []byte(`"not an object"`)})
	inv, err := r.Resolve(data)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if err := inv.Call(context.Background(), nil); err == nil {
		t.Error("Call accepted undecodable args")
	}
}

func TestWithRetryPolicy_OverridePresence(t *testing.T) {
	t.Parallel()

	override, err := retry.New(3)
	if err != nil {
		t.Fatalf("retry.New error: %v", err)
	}

	r := job.NewRegistry(nil)
	job.RegisterFunc(r, "custom", func(context.Context, struct{}) error { return nil },
		job.WithRetryPolicy(override))
	job.RegisterFunc(r, "plain", func(context.Context, struct{}) error { return nil })

	inv, err := r.Resolve([]byte(`{"operation":"custom"}`))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if inv.Policy() != override {
		t.Error("custom operation lost its policy override")
	}

	inv, err = r.Resolve([]byte(`{"operation":"plain"}`))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if inv.Policy() != nil {
		t.Error("plain operation gained a policy override")
	}
}

func TestDescriptor_Key(t *testing.T) {
	t.Parallel()

	tests := []struct {
		desc job.Descriptor
		want string
	}{
		{job.Descriptor{Operation: "cleanup"}, "cleanup"},
		{job.Descriptor{Target: "mailer", Operation: "send"}, "mailer.send"},
	}
	for _, tt := range tests {
		if got := tt.desc.Key(); got != tt.want {
			t.Errorf("Key(%+v) = %q, want %q", tt.desc, got, tt.want)
		}
	}
}

func TestDescriptor_MsgpackRoundTrip(t *testing.T) {
	t.Parallel()

	c := codec.Get(codec.NameMsgpack)
	in := job.Descriptor{Target: "mailer", Operation: "send", Args: []byte(`{"to":"x"}`)}

	data, err := job.EncodeDescriptor(c, in)
	if err != nil {
		t.Fatalf("EncodeDescriptor error: %v", err)
	}
	out, err := job.DecodeDescriptor(c, data)
	if err != nil {
		t.Fatalf("DecodeDescriptor error: %v", err)
	}
	if out.Key() != in.Key() || string(out.Args) != string(in.Args) {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}
