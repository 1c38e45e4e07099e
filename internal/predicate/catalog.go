package predicate

import "github.com/rollno10/crossContractObfuscation/internal/model"

// catalog holds the guard expressions per role and kind. Every entry only reads
// ambient execution context, never reverts and writes no state; each is wrapped
// in its own block so locals do not clash with the surrounding function.
var catalog = map[model.Role]map[model.InteractionKind][]string{
	model.RoleInitiator: {
		model.KindHighLevel: {
			"if ((block.timestamp % 7 == 0) && block.number > 0) { }",
			"{ uint256 _ccobfT = uint256(keccak256(abi.encodePacked(msg.sender, block.number))); if (_ccobfT % 3 == 1) { } }",
		},
		model.KindLowLevel: {
			"if ((gasleft() % 15 == 1) && tx.gasprice > 0) { }",
			"{ uint256 _ccobfT = uint256(keccak256(abi.encodePacked(block.timestamp, gasleft()))); if (_ccobfT % 5 == 2) { } }",
		},
		model.KindInterfaceCall: {
			"if ((uint256(keccak256(abi.encodePacked(msg.sender))) % 5 == 1) && block.number > 0) { }",
			"if (tx.origin == address(this) || gasleft() > 10000) { }",
		},
		model.KindDelegateCall: {
			"if ((gasleft() % 10 == 1) || (block.timestamp % 3 != 0)) { }",
			"{ uint256 _ccobfT = uint256(keccak256(abi.encodePacked(block.timestamp, block.number))); if (_ccobfT % 4 == 3) { } }",
		},
	},
	model.RoleMiddleware: {
		model.KindHighLevel: {
			"if (block.chainid % 9 == 1) { }",
			"{ uint256 _ccobfT = uint256(keccak256(abi.encodePacked(address(this), tx.gasprice))); if (_ccobfT % 7 == 3) { } }",
		},
		model.KindLowLevel: {
			"if ((tx.gasprice % 13 == 1) && address(this).balance > 0) { }",
			"{ uint256 _ccobfT = uint256(uint160(block.coinbase)); if (_ccobfT % 3 == 2) { } }",
		},
		model.KindInterfaceCall: {
			"if (block.number % 11 == 1) { }",
			"{ uint256 _ccobfT = uint256(keccak256(abi.encodePacked(tx.origin, block.timestamp))); if (_ccobfT % 5 == 0) { } }",
		},
		model.KindDelegateCall: {
			"if ((block.timestamp % 6 != 1) && gasleft() > 20000) { }",
			"if (address(this).code.length % 8 == 7) { }",
		},
	},
	model.RoleExecutor: {
		model.KindHighLevel: {
			"if ((uint256(uint160(msg.sender)) % 19 == 1) && block.number > 0) { }",
			"{ uint256 _ccobfT = uint256(keccak256(abi.encodePacked(block.gaslimit, msg.sig))); if (_ccobfT % 3 == 1) { } }",
		},
		model.KindLowLevel: {
			"if ((uint256(keccak256(abi.encodePacked(block.timestamp))) % 14 == 1) && tx.gasprice > 0) { }",
			"if (gasleft() % 8 != 0) { }",
		},
		model.KindInterfaceCall: {
			"if (block.gaslimit % 17 == block.chainid % 17) { }",
			"{ uint256 _ccobfT = uint256(uint160(tx.origin)); if (_ccobfT % 5 == 3) { } }",
		},
		model.KindDelegateCall: {
			"if (msg.sender >= address(this)) { }",
			"if (block.number % 5 != 1) { }",
		},
	},
}
