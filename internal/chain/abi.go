package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// registryABIJSON declares the events and methods the manager needs from
// the service registry contract: event decoding, the three view calls used
// to build a full-snapshot TangleEvent, and the preRegister/register
// transactions the Registration co-routine submits. It is not the
// contract's full ABI.
const registryABIJSON = `[
	{"type":"event","name":"Registered","inputs":[
		{"name":"operator","type":"address","indexed":true},
		{"name":"blueprintId","type":"uint64","indexed":true}
	]},
	{"type":"event","name":"Unregistered","inputs":[
		{"name":"operator","type":"address","indexed":true},
		{"name":"blueprintId","type":"uint64","indexed":true}
	]},
	{"type":"event","name":"ServiceInitiated","inputs":[
		{"name":"blueprintId","type":"uint64","indexed":true},
		{"name":"serviceId","type":"uint64","indexed":true}
	]},
	{"type":"event","name":"JobCalled","inputs":[
		{"name":"serviceId","type":"uint64","indexed":true},
		{"name":"job","type":"uint8","indexed":false}
	]},
	{"type":"event","name":"JobResultSubmitted","inputs":[
		{"name":"serviceId","type":"uint64","indexed":true},
		{"name":"job","type":"uint8","indexed":false}
	]},
	{"type":"function","name":"operatorBlueprintIds","stateMutability":"view","inputs":[
		{"name":"operator","type":"address"}
	],"outputs":[
		{"name":"blueprintIds","type":"uint64[]"}
	]},
	{"type":"function","name":"blueprintServiceIds","stateMutability":"view","inputs":[
		{"name":"blueprintId","type":"uint64"}
	],"outputs":[
		{"name":"serviceIds","type":"uint64[]"}
	]},
	{"type":"function","name":"blueprintSource","stateMutability":"view","inputs":[
		{"name":"blueprintId","type":"uint64"}
	],"outputs":[
		{"name":"sourceKind","type":"uint8"},
		{"name":"owner","type":"string"},
		{"name":"repo","type":"string"},
		{"name":"tag","type":"string"},
		{"name":"registry","type":"string"},
		{"name":"image","type":"string"},
		{"name":"sha256","type":"bytes32"}
	]},
	{"type":"function","name":"preRegister","stateMutability":"nonpayable","inputs":[
		{"name":"blueprintId","type":"uint64"}
	],"outputs":[]},
	{"type":"function","name":"register","stateMutability":"nonpayable","inputs":[
		{"name":"blueprintId","type":"uint64"},
		{"name":"ecdsaPubKey","type":"bytes"},
		{"name":"rpcEndpoint","type":"string"}
	],"outputs":[]}
]`

func mustParseRegistryABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(registryABIJSON))
	if err != nil {
		panic("chain: invalid embedded registry ABI: " + err.Error())
	}
	return parsed
}

// restakingABIJSON declares the manager's read/write surface against the
// restaking set contract: whether an address is already a member, and
// the transaction that joins it. This is deliberately separate from the
// registry ABI since the two contracts live at different addresses.
const restakingABIJSON = `[
	{"type":"function","name":"isOperator","stateMutability":"view","inputs":[
		{"name":"operator","type":"address"}
	],"outputs":[
		{"name":"joined","type":"bool"}
	]},
	{"type":"function","name":"joinOperators","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

func mustParseRestakingABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(restakingABIJSON))
	if err != nil {
		panic("chain: invalid embedded restaking ABI: " + err.Error())
	}
	return parsed
}
