package microvm

import (
	"fmt"
	"net"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"

	apierrors "github.com/tangle-network/blueprint-manager/internal/pkg/errors"
)

const (
	routerTable  = "tangle_router"
	forwardChain = "TANGLE_FORWARD"
	natChain     = "TANGLE_NAT"
)

var acceptPolicy = nftables.ChainPolicyAccept

// ensureChains idempotently creates the table and the two chains the
// manager routes VM traffic through. Safe to call once per process.
func ensureChains() error {
	c := &nftables.Conn{}

	table := c.AddTable(&nftables.Table{Family: nftables.TableFamilyINet, Name: routerTable})

	c.AddChain(&nftables.Chain{
		Name:     forwardChain,
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookForward,
		Priority: nftables.ChainPriorityFilter,
		Policy:   &acceptPolicy,
	})

	c.AddChain(&nftables.Chain{
		Name:     natChain,
		Table:    table,
		Type:     nftables.ChainTypeNAT,
		Hooknum:  nftables.ChainHookPostrouting,
		Priority: nftables.ChainPriorityNATSource,
		Policy:   &acceptPolicy,
	})

	if err := c.Flush(); err != nil {
		return apierrors.New(apierrors.SpawnFailed, "create nftables chains").WithCause(err)
	}
	return nil
}

// setupRules installs the three rules a single microVM's tap interface
// needs: accept established/related return traffic, accept new traffic
// originating from the VM's subnet, and masquerade it on the way out the
// host interface.
func setupRules(hostIface, tapIface string, vmNet *net.IPNet) error {
	if err := ensureChains(); err != nil {
		return err
	}

	c := &nftables.Conn{}
	table := &nftables.Table{Family: nftables.TableFamilyINet, Name: routerTable}
	forward := &nftables.Chain{Name: forwardChain, Table: table}
	nat := &nftables.Chain{Name: natChain, Table: table}

	c.AddRule(&nftables.Rule{
		Table: table,
		Chain: forward,
		Exprs: []expr.Any{
			&expr.Meta{Key: expr.MetaKeyIIFNAME, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifname(hostIface)},
			&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifname(tapIface)},
			&expr.Ct{Key: expr.CtKeySTATE, Register: 1},
			&expr.Bitwise{SourceRegister: 1, DestRegister: 1, Len: 4,
				Mask: binaryutil.NativeEndian.PutUint32(uint32(expr.CtStateBitESTABLISHED | expr.CtStateBitRELATED)),
				Xor:  binaryutil.NativeEndian.PutUint32(0)},
			&expr.Cmp{Op: expr.CmpOpNeq, Register: 1, Data: binaryutil.NativeEndian.PutUint32(0)},
			&expr.Verdict{Kind: expr.VerdictAccept},
		},
	})

	c.AddRule(&nftables.Rule{
		Table: table,
		Chain: forward,
		Exprs: []expr.Any{
			&expr.Meta{Key: expr.MetaKeyIIFNAME, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifname(tapIface)},
			&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifname(hostIface)},
			&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: 12, Len: 4},
			&expr.Bitwise{SourceRegister: 1, DestRegister: 1, Len: 4, Mask: vmNet.Mask, Xor: make([]byte, 4)},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: vmNet.IP.To4()},
			&expr.Verdict{Kind: expr.VerdictAccept},
		},
	})

	c.AddRule(&nftables.Rule{
		Table: table,
		Chain: nat,
		Exprs: []expr.Any{
			&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifname(hostIface)},
			&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: 12, Len: 4},
			&expr.Bitwise{SourceRegister: 1, DestRegister: 1, Len: 4, Mask: vmNet.Mask, Xor: make([]byte, 4)},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: vmNet.IP.To4()},
			&expr.Masq{},
		},
	})

	if err := c.Flush(); err != nil {
		return apierrors.New(apierrors.SpawnFailed, fmt.Sprintf("install nftables rules for %s", tapIface)).WithCause(err)
	}
	return nil
}

func ifname(name string) []byte {
	b := make([]byte, 16)
	copy(b, name)
	return b
}
